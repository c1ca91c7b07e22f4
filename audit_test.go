package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimedesk/authclient/internal/backendtest"
)

func enableAudit(cfg *Config) {
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
}

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
		return AuditEvent{}
	}
}

func collectEvents(t *testing.T, sink *ChannelSink, n int) []string {
	t.Helper()
	types := make([]string, 0, n)
	for range n {
		types = append(types, nextEvent(t, sink).EventType)
	}
	return types
}

func TestAuditLoginLifecycle(t *testing.T) {
	sink := NewChannelSink(64)
	h := newHarness(t, withConfig(enableAudit), withAudit(sink))

	h.login(t, citizenEmail)
	ev := nextEvent(t, sink)
	if ev.EventType != "login_success" || !ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.UserID != "1" || ev.Role != "CITIZEN" {
		t.Fatalf("unexpected identity %q %q", ev.UserID, ev.Role)
	}
	if !strings.HasPrefix(ev.Server, "127.0.0.1") {
		t.Fatalf("expected server host, got %q", ev.Server)
	}
	if !ev.Timestamp.Equal(testStart) {
		t.Fatalf("expected clock timestamp, got %v", ev.Timestamp)
	}

	if err := h.client.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if ev := nextEvent(t, sink); ev.EventType != "logout" || ev.UserID != "1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestAuditMFASequence(t *testing.T) {
	sink := NewChannelSink(64)
	h := newHarness(t, withConfig(enableAudit), withAudit(sink))

	f := h.client.NewLoginFlow()
	if _, err := f.Submit(context.Background(), adminEmail, password); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.SubmitCode(context.Background(), "999999"); err == nil {
		t.Fatal("expected wrong code to fail")
	}
	if _, err := f.SubmitCode(context.Background(), mfaCode); err != nil {
		t.Fatalf("submit code: %v", err)
	}

	got := collectEvents(t, sink, 3)
	want := []string{"mfa_required", "mfa_failure", "mfa_success"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAuditRefreshFailureInvalidatesSession(t *testing.T) {
	sink := NewChannelSink(64)
	h := newHarness(t, withConfig(enableAudit), withAudit(sink))
	h.login(t, citizenEmail)
	login := nextEvent(t, sink)
	if login.Generation == 0 {
		t.Fatal("expected login tagged with a non-zero generation")
	}

	h.srv.Fail("/auth/refresh-token", backendtest.Failure{Status: 401})
	if err := h.client.Refresh(context.Background()); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}

	failure := nextEvent(t, sink)
	if failure.EventType != "refresh_failure" || failure.Success {
		t.Fatalf("unexpected event %+v", failure)
	}
	if failure.Error != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", failure.Error)
	}
	invalidated := nextEvent(t, sink)
	if invalidated.EventType != "session_invalidated" || invalidated.Metadata["cause"] != "refresh_failure" {
		t.Fatalf("unexpected event %+v", invalidated)
	}
	if invalidated.Generation <= login.Generation {
		t.Fatalf("expected invalidation after generation %d, got %d", login.Generation, invalidated.Generation)
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelSink(4)
	h := newHarness(t, withAudit(sink))
	h.login(t, citizenEmail)

	select {
	case ev := <-sink.Events():
		t.Fatalf("expected no events, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditJSONWriterSink(t *testing.T) {
	var out syncBuffer
	h := newHarness(t, withConfig(enableAudit), withAudit(NewJSONWriterSink(&out)))
	h.login(t, citizenEmail)
	h.client.Close()

	line := strings.TrimSpace(out.String())
	var ev map[string]any
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", line, err)
	}
	if ev["event_type"] != "login_success" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestAuditErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, "invalid_credentials"},
		{fmt.Errorf("%w: x", ErrRefreshFailed), "internal_error"},
		{&APIError{Status: 403}, "forbidden"},
		{&APIError{Status: 502}, "server_error"},
		{&NetworkError{Err: errors.New("dial")}, "network"},
		{context.Canceled, "canceled"},
	}
	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v): expected %q, got %q", tc.err, tc.want, got)
		}
	}
}
