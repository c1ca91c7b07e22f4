package authclient

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/middleware"
	"github.com/crimedesk/authclient/notify"
	"github.com/crimedesk/authclient/refresh"
	"github.com/crimedesk/authclient/session"
)

// Builder assembles a Client. A Builder can be used for one Build only.
type Builder struct {
	config Config

	store    session.Store
	storeSet bool

	httpClient     *http.Client
	notifier       notify.Notifier
	navigator      Navigator
	auditSink      AuditSink
	logger         *slog.Logger
	clock          refresh.Clock
	tracerProvider trace.TracerProvider

	built bool
}

// New returns a Builder holding DefaultConfig and an in-memory store.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. The builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets where the session is persisted. A nil store means no
// persistent storage is available; the session then lives in memory only.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	b.storeSet = true
	return b
}

// WithHTTPClient sets the client that performs the requests at the end of
// the pipeline. Its Timeout is left as given.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithAuditSink sets the sink for session lifecycle events. Events are only
// dispatched when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces the wall clock used for token freshness and the
// refresh timer.
func (b *Builder) WithClock(c refresh.Clock) *Builder {
	b.clock = c
	return b
}

// WithTracerProvider sets the provider used when Config.Tracing.Enabled is
// set. Without one the global provider is used.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the client. It performs no
// I/O; call Client.Restore to pick up a persisted session.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scope, err := middleware.NewScope(cfg.API.BaseURL, cfg.API.PublicPaths)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := b.clock
	if clock == nil {
		clock = refresh.SystemClock{}
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	navigator := b.navigator
	if navigator == nil {
		navigator = noopNavigator{}
	}
	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.API.Timeout}
	}
	store := b.store
	if !b.storeSet {
		store = session.NewMemoryStore(session.WithStoreLogger(logger))
	}

	// -------- CLIENT --------
	c := &Client{
		config:    cfg,
		logger:    logger,
		scope:     scope,
		clock:     clock,
		notifier:  notifier,
		navigator: navigator,
		metrics:   NewMetrics(cfg.Metrics),
	}
	c.state = session.NewState(store, session.WithLogger(logger))
	c.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	// -------- REFRESH TIMER --------
	c.scheduler = refresh.New(c.onRefreshTimer,
		refresh.WithLeadTime(cfg.Refresh.LeadTime),
		refresh.WithClock(clock),
		refresh.WithLogger(logger),
	)

	// -------- PIPELINE --------
	var tracing middleware.Middleware
	if cfg.Tracing.Enabled {
		tracing = middleware.Trace(b.tracerProvider, cfg.Tracing.TracerName)
	}
	c.pipeline = middleware.Chain(httpClient,
		tracing,
		middleware.Observe(c.observeRequest),
		middleware.RequestID(),
		middleware.Authorize(scope, middleware.TokenFunc(c.state.AccessToken), clock.Now),
		middleware.HandleFaults(middleware.FaultConfig{
			Scope:        scope,
			MaxErrorBody: cfg.Faults.MaxErrorBody,
		}, c),
	)

	c.flows = c.buildFlowDeps()

	b.built = true

	return c, nil
}
