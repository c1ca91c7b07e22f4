package otel

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/crimedesk/authclient"
)

// sessionSource stands in for a client whose session changes between
// collections.
type sessionSource struct {
	mu       sync.Mutex
	counters map[authclient.MetricID]uint64
	latency  []uint64
	dropped  map[string]uint64
	status   authclient.SessionStatus
}

func (s *sessionSource) MetricsSnapshot() authclient.MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := authclient.MetricsSnapshot{
		Counters:   map[authclient.MetricID]uint64{},
		Histograms: map[authclient.MetricID][]uint64{},
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	snap.Histograms[authclient.MetricRequestLatency] = append([]uint64(nil), s.latency...)
	return snap
}

func (s *sessionSource) AuditDroppedByType() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]uint64{}
	for k, v := range s.dropped {
		out[k] = v
	}
	return out
}

func (s *sessionSource) SessionStatus() authclient.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *sessionSource) login() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[authclient.MetricLoginSuccess]++
	s.status = authclient.SessionStatus{LoggedIn: true, RefreshPending: true, Generation: s.status.Generation + 1}
}

func (s *sessionSource) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[authclient.MetricSessionInvalidated]++
	s.status = authclient.SessionStatus{Generation: s.status.Generation + 1}
}

type point struct {
	value int64
	attrs attribute.Set
}

func newReader(t *testing.T, src Source) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("authclient-test")
	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string][]point {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string][]point{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = append(out[m.Name], point{dp.Value, dp.Attributes})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = append(out[m.Name], point{dp.Value, dp.Attributes})
				}
			}
		}
	}
	return out
}

// single returns the value of an instrument without attributes.
func single(t *testing.T, got map[string][]point, name string) int64 {
	t.Helper()
	pts := got[name]
	if len(pts) != 1 {
		t.Fatalf("expected one point for %s, got %d", name, len(pts))
	}
	return pts[0].value
}

func withAttr(t *testing.T, got map[string][]point, name, key, value string) int64 {
	t.Helper()
	for _, p := range got[name] {
		if v, ok := p.attrs.Value(attribute.Key(key)); ok && v.AsString() == value {
			return p.value
		}
	}
	t.Fatalf("expected %s{%s=%q}, got %+v", name, key, value, got[name])
	return 0
}

func TestSessionGaugesFollowLoginAndInvalidation(t *testing.T) {
	src := &sessionSource{counters: map[authclient.MetricID]uint64{}}
	reader := newReader(t, src)

	got := collect(t, reader)
	if single(t, got, "authclient_session_logged_in") != 0 || single(t, got, "authclient_refresh_pending") != 0 {
		t.Fatalf("expected a logged out client, got %+v", got)
	}

	src.login()
	got = collect(t, reader)
	if v := single(t, got, "authclient_session_logged_in"); v != 1 {
		t.Fatalf("expected logged_in 1 after login, got %d", v)
	}
	if v := single(t, got, "authclient_refresh_pending"); v != 1 {
		t.Fatalf("expected refresh_pending 1 after login, got %d", v)
	}
	if v := single(t, got, "authclient_login_success_total"); v != 1 {
		t.Fatalf("expected 1 login, got %d", v)
	}

	src.invalidate()
	got = collect(t, reader)
	if v := single(t, got, "authclient_session_logged_in"); v != 0 {
		t.Fatalf("expected logged_in 0 after invalidation, got %d", v)
	}
	if v := single(t, got, "authclient_refresh_pending"); v != 0 {
		t.Fatalf("expected no pending refresh after invalidation, got %d", v)
	}
	if v := single(t, got, "authclient_session_generation"); v != 2 {
		t.Fatalf("expected generation 2, got %d", v)
	}
	if v := single(t, got, "authclient_session_invalidated_total"); v != 1 {
		t.Fatalf("expected 1 invalidation, got %d", v)
	}
}

func TestLatencyBucketsAreCumulativeByBound(t *testing.T) {
	src := &sessionSource{
		counters: map[authclient.MetricID]uint64{},
		latency:  []uint64{2, 0, 1, 0, 0, 0, 0, 1},
	}
	got := collect(t, newReader(t, src))

	name := "authclient_request_latency_seconds_bucket"
	if len(got[name]) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(got[name]))
	}
	for le, want := range map[string]int64{"0.025": 2, "0.1": 3, "2.5": 3, "+Inf": 4} {
		if v := withAttr(t, got, name, "le", le); v != want {
			t.Fatalf("expected %d at le=%s, got %d", want, le, v)
		}
	}
}

func TestAuditDropsAreLabelledByEventType(t *testing.T) {
	src := &sessionSource{
		counters: map[authclient.MetricID]uint64{},
		dropped:  map[string]uint64{"refresh_failure": 3, "logout": 1},
	}
	got := collect(t, newReader(t, src))

	if v := withAttr(t, got, "authclient_audit_dropped_total", "event_type", "refresh_failure"); v != 3 {
		t.Fatalf("expected 3 dropped refresh_failure events, got %d", v)
	}
	if v := withAttr(t, got, "authclient_audit_dropped_total", "event_type", "logout"); v != 1 {
		t.Fatalf("expected 1 dropped logout event, got %d", v)
	}
}

func TestExporterRejectsMissingInputs(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("authclient-test")

	if _, err := NewOTelExporterFromSource(nil, &sessionSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for a nil client, got %v", err)
	}
}

func TestCollectWhileSessionChanges(t *testing.T) {
	src := &sessionSource{counters: map[authclient.MetricID]uint64{}}
	reader := newReader(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				src.login()
			} else {
				src.invalidate()
			}
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(i)
	}
	wg.Wait()

	if v := single(t, collect(t, reader), "authclient_session_generation"); v != 8 {
		t.Fatalf("expected generation 8, got %d", v)
	}
}
