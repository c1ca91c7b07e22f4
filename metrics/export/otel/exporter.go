package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/crimedesk/authclient"
	"github.com/crimedesk/authclient/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on every collection. *authclient.Client
// implements it.
type Source interface {
	MetricsSnapshot() authclient.MetricsSnapshot
	AuditDroppedByType() map[string]uint64
	SessionStatus() authclient.SessionStatus
}

var _ Source = (*authclient.Client)(nil)

// bucketAttrs holds one "le" attribute set per histogram bucket.
var bucketAttrs = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, len(internaldefs.HistogramBounds))
	for i, le := range internaldefs.HistogramBounds {
		out[i] = metric.WithAttributes(attribute.String("le", le))
	}
	return out
}()

// OTelExporter observes a client through one registered callback.
type OTelExporter struct {
	source       Source
	registration metric.Registration

	counters map[authclient.MetricID]metric.Int64ObservableCounter
	buckets  map[authclient.MetricID]metric.Int64ObservableGauge

	auditDropped   metric.Int64ObservableCounter
	loggedIn       metric.Int64ObservableGauge
	refreshPending metric.Int64ObservableGauge
	generation     metric.Int64ObservableGauge
}

// NewOTelExporter registers instruments for client on meter.
func NewOTelExporter(meter metric.Meter, client *authclient.Client) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, client)
}

// NewOTelExporterFromSource registers instruments for any Source.
func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[authclient.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
		buckets:  make(map[authclient.MetricID]metric.Int64ObservableGauge, len(internaldefs.HistogramDefs)),
	}
	var observables []metric.Observable
	var err error

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		observables = append(observables, c)
	}

	// Histograms become a cumulative gauge per bucket, told apart by "le".
	for _, def := range internaldefs.HistogramDefs {
		name := def.Name + "_bucket"
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", name, err)
		}
		e.buckets[def.ID] = g
		observables = append(observables, g)
	}

	if e.auditDropped, err = meter.Int64ObservableCounter("authclient_audit_dropped_total",
		metric.WithDescription("Audit events lost to a full queue, by event type.")); err != nil {
		return nil, fmt.Errorf("otel: audit dropped: %w", err)
	}
	if e.loggedIn, err = meter.Int64ObservableGauge("authclient_session_logged_in",
		metric.WithDescription("1 while a user is logged in.")); err != nil {
		return nil, fmt.Errorf("otel: logged in gauge: %w", err)
	}
	if e.refreshPending, err = meter.Int64ObservableGauge("authclient_refresh_pending",
		metric.WithDescription("1 while a token refresh is scheduled.")); err != nil {
		return nil, fmt.Errorf("otel: refresh pending gauge: %w", err)
	}
	if e.generation, err = meter.Int64ObservableGauge("authclient_session_generation",
		metric.WithDescription("Number of session state changes.")); err != nil {
		return nil, fmt.Errorf("otel: generation gauge: %w", err)
	}
	observables = append(observables, e.auditDropped, e.loggedIn, e.refreshPending, e.generation)

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snapshot.Counters[id]))
	}
	for id, g := range e.buckets {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[id]))
		for i, n := range cumulative {
			o.ObserveInt64(g, int64(n), bucketAttrs[i])
		}
	}

	for eventType, n := range e.source.AuditDroppedByType() {
		o.ObserveInt64(e.auditDropped, int64(n), metric.WithAttributes(attribute.String("event_type", eventType)))
	}

	st := e.source.SessionStatus()
	o.ObserveInt64(e.loggedIn, boolValue(st.LoggedIn))
	o.ObserveInt64(e.refreshPending, boolValue(st.RefreshPending))
	o.ObserveInt64(e.generation, int64(st.Generation))
	return nil
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Close unregisters the callback. The instruments stay on the meter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
