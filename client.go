package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	internalaudit "github.com/crimedesk/authclient/internal/audit"
	"github.com/crimedesk/authclient/internal/flows"
	"github.com/crimedesk/authclient/middleware"
	"github.com/crimedesk/authclient/notify"
	"github.com/crimedesk/authclient/refresh"
	"github.com/crimedesk/authclient/session"
)

// Client is the session and authorization front of the crime-reporting
// backend. It owns the session state, the refresh timer, and the request
// pipeline; feature code sends its own requests through Do so they carry
// the bearer token and get the same fault handling.
//
// A Client is safe for concurrent use once built.
type Client struct {
	config    Config
	logger    *slog.Logger
	scope     *middleware.Scope
	clock     refresh.Clock
	notifier  notify.Notifier
	navigator Navigator

	state     *session.State
	scheduler *refresh.Scheduler
	pipeline  middleware.Doer
	flows     flows.Deps

	refreshGroup singleflight.Group

	audit   *internalaudit.Dispatcher
	metrics *Metrics

	closed atomic.Bool
}

// Close stops the refresh timer and flushes the audit dispatcher. The
// session is left as is; Close is not a logout.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.scheduler.Cancel()
	if c.audit != nil {
		c.audit.Close()
	}
}

// State exposes the observable session state.
func (c *Client) State() *session.State {
	if c == nil {
		return nil
	}
	return c.state
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return cloneConfig(c.config)
}

func (c *Client) AuditDropped() uint64 {
	if c == nil || c.audit == nil {
		return 0
	}
	return c.audit.Dropped()
}

// AuditDroppedByType returns dropped audit events keyed by event type.
func (c *Client) AuditDroppedByType() map[string]uint64 {
	if c == nil {
		return map[string]uint64{}
	}
	return c.audit.DroppedByType()
}

// SessionStatus is a point-in-time view of the session for gauges.
type SessionStatus struct {
	LoggedIn       bool
	RefreshPending bool
	Generation     uint64
}

// SessionStatus reports whether a user is logged in, whether a refresh
// timer is armed and the current state generation.
func (c *Client) SessionStatus() SessionStatus {
	if c == nil {
		return SessionStatus{}
	}
	return SessionStatus{
		LoggedIn:       c.state.IsLoggedIn(),
		RefreshPending: c.scheduler.Pending(),
		Generation:     c.state.Generation(),
	}
}

func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// NewRequest builds a request for an API-relative path such as
// "/complaints?page=2". Absolute URLs are used as given.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	u, err := c.scope.Resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.config.API.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.API.UserAgent)
	}
	return req, nil
}

// Do sends req through the pipeline. Failed API replies come back as
// *APIError with a nil response, transport failures as *NetworkError; the
// global reaction (logout on 401, notices) has already happened by then.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c == nil || c.pipeline == nil {
		return nil, ErrClientNotReady
	}
	return c.pipeline.Do(req)
}

// newJSONRequest encodes in (when non-nil) as the request body.
func (c *Client) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// exchange sends req and decodes a JSON reply into out. An empty body
// leaves out untouched.
func (c *Client) exchange(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedReply, req.Method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newJSONRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.exchange(req, out)
}

func (c *Client) observeRequest(o middleware.Observation) {
	c.metricInc(MetricRequests)
	c.metrics.Observe(MetricRequestLatency, o.Duration)
	c.logger.Debug("authclient: request",
		"method", o.Method,
		"path", o.Path,
		"status", o.Status,
		"duration", o.Duration,
	)
}

func (c *Client) metricInc(id MetricID) {
	c.metrics.Inc(id)
}

func (c *Client) navigate(ctx context.Context, route string) {
	if route == "" {
		return
	}
	c.navigator.Navigate(ctx, route)
}

func (c *Client) notify(ctx context.Context, n notify.Notice) {
	c.notifier.Notify(ctx, n)
}

func (c *Client) ready() error {
	if c == nil || c.pipeline == nil || c.closed.Load() {
		return ErrClientNotReady
	}
	return nil
}
