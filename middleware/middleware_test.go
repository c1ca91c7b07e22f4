package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimedesk/authclient/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func mint(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "42",
		"role": "ADMIN",
		"exp":  exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func mustScope(t *testing.T, base string) *middleware.Scope {
	t.Helper()
	s, err := middleware.NewScope(base, middleware.DefaultPublicPaths)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	return s
}

type recordingDoer struct {
	mu   sync.Mutex
	reqs []*http.Request
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func (d *recordingDoer) last() *http.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reqs[len(d.reqs)-1]
}

type faultLog struct {
	mu     sync.Mutex
	faults []middleware.Fault
}

func (l *faultLog) ReactToFault(_ context.Context, f middleware.Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, f)
}

func (l *faultLog) kinds() []middleware.FaultKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]middleware.FaultKind, len(l.faults))
	for i, f := range l.faults {
		out[i] = f.Kind
	}
	return out
}

func TestChainOrder(t *testing.T) {
	var order []string
	stage := func(name string) middleware.Middleware {
		return func(next middleware.Doer) middleware.Doer {
			return middleware.DoerFunc(func(req *http.Request) (*http.Response, error) {
				order = append(order, name+">")
				resp, err := next.Do(req)
				order = append(order, "<"+name)
				return resp, err
			})
		}
	}

	d := middleware.Chain(&recordingDoer{}, stage("a"), nil, stage("b"))
	req := httptest.NewRequest(http.MethodGet, "https://api.example.test/x", nil)
	if _, err := d.Do(req); err != nil {
		t.Fatalf("do: %v", err)
	}

	want := "a> b> <b <a"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestScopeRelative(t *testing.T) {
	s := mustScope(t, "https://API.example.test/api/")

	cases := []struct {
		url    string
		rel    string
		inAPI  bool
		public bool
	}{
		{"https://api.example.test/api/reports", "/reports", true, false},
		{"https://api.example.test/api", "/", true, false},
		{"https://api.example.test/apix/reports", "", false, false},
		{"http://api.example.test/api/reports", "", false, false},
		{"https://cdn.example.test/api/reports", "", false, false},
		{"https://api.example.test/api/auth/login", "/auth/login", true, true},
		{"https://api.example.test/api/languages/fr", "/languages/fr", true, true},
		{"https://api.example.test/api/auth/logout", "/auth/logout", true, false},
		{"https://api.example.test/api/auth/login-history", "/auth/login-history", true, false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.url, nil)
		rel, ok := s.Relative(req.URL)
		if ok != tc.inAPI || rel != tc.rel {
			t.Errorf("%s: expected (%q, %v), got (%q, %v)", tc.url, tc.rel, tc.inAPI, rel, ok)
		}
		if got := s.IsPublic(req.URL); got != tc.public {
			t.Errorf("%s: expected public=%v, got %v", tc.url, tc.public, got)
		}
	}

	if _, err := middleware.NewScope("/api", nil); err == nil {
		t.Fatalf("expected relative base url to be rejected")
	}
}

func TestScopeResolve(t *testing.T) {
	s := mustScope(t, "https://api.example.test/api/")

	cases := map[string]string{
		"/auth/login":                "https://api.example.test/api/auth/login",
		"auth/users/profile":         "https://api.example.test/api/auth/users/profile",
		"/reports?page=2":            "https://api.example.test/api/reports?page=2",
		"https://cdn.example.test/x": "https://cdn.example.test/x",
	}
	for ref, want := range cases {
		u, err := s.Resolve(ref)
		if err != nil {
			t.Fatalf("resolve %q: %v", ref, err)
		}
		if u.String() != want {
			t.Errorf("resolve %q: expected %q, got %q", ref, want, u.String())
		}
		if ref[0] != 'h' && !s.InAPI(u) {
			t.Errorf("resolve %q: expected result inside the API", ref)
		}
	}
	if s.Host() != "api.example.test" {
		t.Fatalf("expected host api.example.test, got %q", s.Host())
	}
}

func TestAuthorizeDecisionTable(t *testing.T) {
	scope := mustScope(t, "https://api.example.test/api")
	fresh := mint(t, now.Add(10*time.Minute))
	stale := mint(t, now.Add(-time.Minute))

	cases := []struct {
		name     string
		url      string
		tok      string
		header   string
		decision middleware.Decision
		wantAuth string
	}{
		{"outside api", "https://other.example.test/api/reports", fresh, "", middleware.DecisionOutsideAPI, ""},
		{"login allowlisted", "https://api.example.test/api/auth/login", fresh, "", middleware.DecisionPublic, ""},
		{"register allowlisted", "https://api.example.test/api/auth/register", fresh, "", middleware.DecisionPublic, ""},
		{"refresh allowlisted", "https://api.example.test/api/auth/refresh-token", fresh, "", middleware.DecisionPublic, ""},
		{"reset allowlisted", "https://api.example.test/api/auth/reset-password", fresh, "", middleware.DecisionPublic, ""},
		{"languages allowlisted", "https://api.example.test/api/languages", fresh, "", middleware.DecisionPublic, ""},
		{"fresh token", "https://api.example.test/api/reports", fresh, "", middleware.DecisionAttach, "Bearer " + fresh},
		{"expired token", "https://api.example.test/api/reports", stale, "", middleware.DecisionNoToken, ""},
		{"malformed token", "https://api.example.test/api/reports", "not-a-jwt", "", middleware.DecisionNoToken, ""},
		{"no token", "https://api.example.test/api/reports", "", "", middleware.DecisionNoToken, ""},
		{"explicit header", "https://api.example.test/api/auth/logout", fresh, "Bearer other", middleware.DecisionExplicit, "Bearer other"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tokens := middleware.TokenFunc(func() string { return tc.tok })
			a := middleware.NewAuthorizer(scope, tokens, func() time.Time { return now })

			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			if d, _ := a.Decide(req); d != tc.decision {
				t.Fatalf("expected %v, got %v", tc.decision, d)
			}

			rec := &recordingDoer{}
			if _, err := a.Middleware()(rec).Do(req); err != nil {
				t.Fatalf("do: %v", err)
			}
			if got := rec.last().Header.Get("Authorization"); got != tc.wantAuth {
				t.Fatalf("expected Authorization %q, got %q", tc.wantAuth, got)
			}
			if tc.header == "" && req.Header.Get("Authorization") != "" {
				t.Fatalf("caller request was mutated")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := middleware.BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("expected abc, got %q (%v)", tok, ok)
	}
	for _, v := range []string{"", "Bearer ", "Basic abc", "bearer abc"} {
		if _, ok := middleware.BearerToken(v); ok {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func faultServer() *httptest.Server {
	mux := http.NewServeMux()
	status := func(code int, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/api/ok", status(200, `{}`))
	mux.HandleFunc("/api/unauthorized", status(401, `{"message":"Token expired"}`))
	mux.HandleFunc("/api/auth/login", status(401, `{"error":"Bad credentials"}`))
	mux.HandleFunc("/api/forbidden", status(403, `{"message":"Access denied"}`))
	mux.HandleFunc("/api/missing", status(404, ``))
	mux.HandleFunc("/api/broken", status(503, `<html>oops</html>`))
	mux.HandleFunc("/api/invalid", status(422, `validation failed`))
	mux.HandleFunc("/elsewhere/unauthorized", status(401, ``))
	return httptest.NewServer(mux)
}

func TestHandleFaultsClassifiesAndReturnsErrors(t *testing.T) {
	srv := faultServer()
	defer srv.Close()
	scope := mustScope(t, srv.URL+"/api")

	cases := []struct {
		path    string
		target  error
		status  int
		message string
		react   middleware.FaultKind
	}{
		{"/api/ok", nil, 200, "", middleware.FaultNone},
		{"/api/unauthorized", middleware.ErrUnauthorized, 401, "Token expired", middleware.FaultUnauthorized},
		{"/api/auth/login", middleware.ErrUnauthorized, 401, "Bad credentials", middleware.FaultNone},
		{"/api/forbidden", middleware.ErrForbidden, 403, "Access denied", middleware.FaultForbidden},
		{"/api/missing", middleware.ErrNotFound, 404, "Not Found", middleware.FaultNotFound},
		{"/api/broken", middleware.ErrServer, 503, "Service Unavailable", middleware.FaultServer},
		{"/api/invalid", nil, 422, "validation failed", middleware.FaultNone},
		{"/elsewhere/unauthorized", middleware.ErrUnauthorized, 401, "Unauthorized", middleware.FaultNone},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			log := &faultLog{}
			d := middleware.Chain(srv.Client(), middleware.HandleFaults(middleware.FaultConfig{Scope: scope}, log))

			req, _ := http.NewRequest(http.MethodGet, srv.URL+tc.path, nil)
			resp, err := d.Do(req)

			if tc.status == 200 {
				if err != nil || resp.StatusCode != 200 {
					t.Fatalf("expected pass-through, got %v", err)
				}
				resp.Body.Close()
			} else {
				var apiErr *middleware.APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("expected *APIError, got %T %v", err, err)
				}
				if apiErr.Status != tc.status || apiErr.Message != tc.message {
					t.Fatalf("expected %d %q, got %d %q", tc.status, tc.message, apiErr.Status, apiErr.Message)
				}
				if tc.target != nil && !errors.Is(err, tc.target) {
					t.Fatalf("expected errors.Is(%v)", tc.target)
				}
				if resp != nil {
					t.Fatalf("expected nil response with error")
				}
			}

			kinds := log.kinds()
			if tc.react == middleware.FaultNone {
				if len(kinds) != 0 {
					t.Fatalf("expected no reaction, got %v", kinds)
				}
				return
			}
			if len(kinds) != 1 || kinds[0] != tc.react {
				t.Fatalf("expected reaction %v, got %v", tc.react, kinds)
			}
		})
	}
}

func TestHandleFaultsReportsRelativePath(t *testing.T) {
	srv := faultServer()
	defer srv.Close()

	log := &faultLog{}
	d := middleware.HandleFaults(middleware.FaultConfig{Scope: mustScope(t, srv.URL+"/api")}, log)(srv.Client())
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/forbidden", nil)
	_, _ = d.Do(req)

	if len(log.faults) != 1 {
		t.Fatalf("expected one fault, got %d", len(log.faults))
	}
	f := log.faults[0]
	if f.Path != "/forbidden" || f.Method != http.MethodDelete || f.Status != 403 {
		t.Fatalf("unexpected fault %+v", f)
	}
}

func TestHandleFaultsNetworkFailure(t *testing.T) {
	scope := mustScope(t, "https://api.example.test/api")
	down := middleware.DoerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	log := &faultLog{}
	d := middleware.HandleFaults(middleware.FaultConfig{Scope: scope}, log)(down)

	req, _ := http.NewRequest(http.MethodGet, "https://api.example.test/api/reports", nil)
	_, err := d.Do(req)
	if !errors.Is(err, middleware.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	var netErr *middleware.NetworkError
	if !errors.As(err, &netErr) || netErr.Path != "/reports" {
		t.Fatalf("expected *NetworkError for /reports, got %v", err)
	}
	if kinds := log.kinds(); len(kinds) != 1 || kinds[0] != middleware.FaultNetwork {
		t.Fatalf("expected network reaction, got %v", kinds)
	}
}

func TestHandleFaultsIgnoresCancellation(t *testing.T) {
	scope := mustScope(t, "https://api.example.test/api")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log := &faultLog{}
	d := middleware.HandleFaults(middleware.FaultConfig{Scope: scope}, log)(
		middleware.DoerFunc(func(req *http.Request) (*http.Response, error) {
			return nil, req.Context().Err()
		}),
	)

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.test/api/reports", nil)
	_, err := d.Do(req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, middleware.ErrNetwork) {
		t.Fatalf("cancellation must not be reported as a network failure")
	}
	if len(log.kinds()) != 0 {
		t.Fatalf("expected no reaction on cancellation")
	}
}

func TestWithoutFaultReactions(t *testing.T) {
	srv := faultServer()
	defer srv.Close()

	log := &faultLog{}
	d := middleware.HandleFaults(middleware.FaultConfig{Scope: mustScope(t, srv.URL+"/api")}, log)(srv.Client())

	ctx := middleware.WithoutFaultReactions(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/unauthorized", nil)
	_, err := d.Do(req)
	if !errors.Is(err, middleware.ErrUnauthorized) {
		t.Fatalf("expected error still returned, got %v", err)
	}
	if len(log.kinds()) != 0 {
		t.Fatalf("expected suppressed reaction, got %v", log.kinds())
	}
	if middleware.FaultReactionsSuppressed(context.Background()) {
		t.Fatalf("plain context must not be suppressed")
	}
}

func TestHandleFaultsCapsErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	d := middleware.HandleFaults(middleware.FaultConfig{MaxErrorBody: 128}, nil)(srv.Client())
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/big", nil)
	_, err := d.Do(req)

	var apiErr *middleware.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if len(apiErr.Body) != 128 {
		t.Fatalf("expected body capped at 128 bytes, got %d", len(apiErr.Body))
	}
	if apiErr.Message != "Internal Server Error" {
		t.Fatalf("expected status text fallback, got %q", apiErr.Message)
	}
}

func TestRequestID(t *testing.T) {
	rec := &recordingDoer{}
	d := middleware.RequestID()(rec)

	req := httptest.NewRequest(http.MethodGet, "https://api.example.test/a", nil)
	_, _ = d.Do(req)
	id := rec.last().Header.Get(middleware.HeaderRequestID)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid request id, got %q", id)
	}
	if req.Header.Get(middleware.HeaderRequestID) != "" {
		t.Fatalf("caller request was mutated")
	}

	req.Header.Set(middleware.HeaderRequestID, "fixed")
	_, _ = d.Do(req)
	if got := rec.last().Header.Get(middleware.HeaderRequestID); got != "fixed" {
		t.Fatalf("expected caller id kept, got %q", got)
	}
}

func TestTraceRecordsClientSpans(t *testing.T) {
	srv := faultServer()
	defer srv.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	d := middleware.Chain(srv.Client(),
		middleware.Trace(tp, "test"),
		middleware.HandleFaults(middleware.FaultConfig{}, nil),
	)

	okReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/ok", nil)
	resp, err := d.Do(okReq)
	if err != nil {
		t.Fatalf("ok request: %v", err)
	}
	resp.Body.Close()

	badReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/broken", nil)
	if _, err := d.Do(badReq); err == nil {
		t.Fatalf("expected error for 503")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].SpanKind() != trace.SpanKindClient || spans[0].Name() != "HTTP GET" {
		t.Fatalf("unexpected span %q kind %v", spans[0].Name(), spans[0].SpanKind())
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("expected ok span not to be an error")
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("expected failed span status error, got %v", spans[1].Status().Code)
	}
	var status int64
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != 503 {
		t.Fatalf("expected status attribute 503, got %d", status)
	}
}

func TestObserveReportsStatus(t *testing.T) {
	srv := faultServer()
	defer srv.Close()

	var got []middleware.Observation
	d := middleware.Chain(srv.Client(),
		middleware.Observe(func(o middleware.Observation) { got = append(got, o) }),
		middleware.HandleFaults(middleware.FaultConfig{}, nil),
	)

	for _, p := range []string{"/api/ok", "/api/missing"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+p, nil)
		if resp, err := d.Do(req); err == nil {
			resp.Body.Close()
		}
	}

	if len(got) != 2 || got[0].Status != 200 || got[1].Status != 404 {
		t.Fatalf("unexpected observations %+v", got)
	}
	if got[1].Err == nil || got[1].Path != "/api/missing" {
		t.Fatalf("expected error recorded for 404, got %+v", got[1])
	}
}
