package authclient

import (
	"sync"
	"testing"
	"time"

	"github.com/crimedesk/authclient/middleware"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", len(snap.Counters))
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricRequestLatency, time.Second)
	if m.Value(MetricLogout) != 0 || m.Enabled() {
		t.Fatal("nil metrics must record nothing")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		10 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2500 * time.Millisecond,
		4 * time.Second,
	}

	for _, d := range observations {
		m.Observe(MetricRequestLatency, d)
	}
	m.Observe(MetricLoginSuccess, time.Millisecond)

	buckets := m.Snapshot().Histograms[MetricRequestLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricRequestLatency, 2*time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if _, ok := snap.Counters[MetricRequestLatency]; ok {
		t.Fatal("histogram id must not appear as a counter")
	}
	if _, ok := snap.Histograms[MetricRequestLatency]; ok {
		t.Fatal("expected no histogram with latency histograms disabled")
	}
}

func TestFaultMetric(t *testing.T) {
	cases := map[middleware.FaultKind]MetricID{
		middleware.FaultUnauthorized: MetricFaultUnauthorized,
		middleware.FaultForbidden:    MetricFaultForbidden,
		middleware.FaultNotFound:     MetricFaultNotFound,
		middleware.FaultServer:       MetricFaultServer,
		middleware.FaultNetwork:      MetricFaultNetwork,
	}
	for kind, want := range cases {
		got, ok := faultMetric(kind)
		if !ok || got != want {
			t.Fatalf("faultMetric(%s): expected %d, got %d (%v)", kind, want, got, ok)
		}
	}
	if _, ok := faultMetric(middleware.FaultClient); ok {
		t.Fatal("client faults have no counter")
	}
}
