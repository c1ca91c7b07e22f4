package authclient

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/crimedesk/authclient/internal/backendtest"
	"github.com/crimedesk/authclient/notify"
	"github.com/crimedesk/authclient/refresh"
	"github.com/crimedesk/authclient/role"
	"github.com/crimedesk/authclient/session"
)

const (
	citizenEmail = "citizen@example.com"
	officerEmail = "officer@example.com"
	adminEmail   = "admin@example.com"
	password     = "correct horse battery"
	mfaCode      = "424242"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type navLog struct {
	mu     sync.Mutex
	routes []string
}

func (n *navLog) Navigate(_ context.Context, route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *navLog) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.routes) == 0 {
		return ""
	}
	return n.routes[len(n.routes)-1]
}

func (n *navLog) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.routes)
}

type harness struct {
	srv     *backendtest.Server
	clock   *refresh.ManualClock
	client  *Client
	notices *notify.ChannelNotifier
	nav     *navLog
	store   session.Store
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	store      session.Store
	configure  func(*Config)
	serverOpts []backendtest.Option
	auditSink  AuditSink
}

func withStore(s session.Store) harnessOption {
	return func(hc *harnessConfig) { hc.store = s }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(hc *harnessConfig) { hc.configure = fn }
}

func withServer(opts ...backendtest.Option) harnessOption {
	return func(hc *harnessConfig) { hc.serverOpts = append(hc.serverOpts, opts...) }
}

func withAudit(sink AuditSink) harnessOption {
	return func(hc *harnessConfig) { hc.auditSink = sink }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{store: session.NewMemoryStore()}
	for _, opt := range opts {
		opt(&hc)
	}

	clock := refresh.NewManualClock(testStart)
	srv := backendtest.New(t, append([]backendtest.Option{backendtest.WithNow(clock.Now)}, hc.serverOpts...)...)
	srv.AddAccount(backendtest.Account{
		ID: 1, Email: citizenEmail, Password: password,
		FirstName: "Ada", LastName: "Citizen", Role: role.Citizen,
		Notifications: session.NotificationPreferences{Email: true},
	})
	srv.AddAccount(backendtest.Account{
		ID: 2, Email: officerEmail, Password: password,
		FirstName: "Bo", LastName: "Officer", Role: role.PoliceOfficer,
	})
	srv.AddAccount(backendtest.Account{
		ID: 3, Email: adminEmail, Password: password,
		FirstName: "Cy", LastName: "Admin", Role: role.Admin,
		MFAEnabled: true, MFACode: mfaCode,
	})

	cfg := DefaultConfig()
	cfg.API.BaseURL = srv.BaseURL()
	if hc.configure != nil {
		hc.configure(&cfg)
	}

	notices := notify.NewChannelNotifier(64)
	nav := &navLog{}
	b := New().
		WithConfig(cfg).
		WithStore(hc.store).
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second}).
		WithClock(clock).
		WithNotifier(notices).
		WithNavigator(nav)
	if hc.auditSink != nil {
		b = b.WithAuditSink(hc.auditSink)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("build client: %v", err)
	}
	t.Cleanup(c.Close)

	return &harness{
		srv:     srv,
		clock:   clock,
		client:  c,
		notices: notices,
		nav:     nav,
		store:   hc.store,
	}
}

func (h *harness) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := h.client.Login(context.Background(), Credentials{Email: email, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	if res.MFARequired {
		res, err = h.client.VerifyMFA(context.Background(), email, mfaCode)
		if err != nil {
			t.Fatalf("verify %s: %v", email, err)
		}
	}
	return res
}

func (h *harness) get(t *testing.T, path string) error {
	t.Helper()
	req, err := h.client.NewRequest(context.Background(), http.MethodGet, path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func hasNotice(notices []notify.Notice, code string) bool {
	for _, n := range notices {
		if n.Code == code {
			return true
		}
	}
	return false
}
