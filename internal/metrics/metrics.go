// Package metrics registers the Prometheus collectors shared by both
// binaries, grounded on runZeroInc-sockstats/pkg/exporter's small
// registration wrapper and the counter-field shape in the netflow
// aggregator example (other_examples/…DataDog-datadog-agent…aggregator.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Capture holds every counter/gauge the capture binary exposes.
type Capture struct {
	FramesDecoded   *prometheus.CounterVec // by interface
	FramesMalformed *prometheus.CounterVec // by interface, layer
	BatchesPublished prometheus.Counter
	DropOnPublish   prometheus.Counter
	CancelDrop      prometheus.Counter
	BindFailures    *prometheus.CounterVec // by interface
	InterfacesBound prometheus.Gauge
}

// NewCapture registers and returns the capture binary's metrics on reg.
func NewCapture(reg prometheus.Registerer) *Capture {
	m := &Capture{
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "frames_decoded_total",
			Help:      "Frames successfully decoded, by interface.",
		}, []string{"interface"}),
		FramesMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "frames_malformed_total",
			Help:      "Frames dropped as malformed, by interface and failing layer.",
		}, []string{"interface", "layer"}),
		BatchesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "batches_published_total",
			Help:      "Batches successfully appended to the frame stream.",
		}),
		DropOnPublish: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "drop_on_publish_total",
			Help:      "Batches dropped (oldest) because the publish queue was full.",
		}),
		CancelDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "cancel_drop_total",
			Help:      "In-flight batches lost to cancellation/timeout during shutdown.",
		}),
		BindFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "bind_failures_total",
			Help:      "Interface bind failures, by interface.",
		}, []string{"interface"}),
		InterfacesBound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netsentinel",
			Subsystem: "capture",
			Name:      "interfaces_bound",
			Help:      "Number of interfaces currently bound.",
		}),
	}
	reg.MustRegister(
		m.FramesDecoded, m.FramesMalformed, m.BatchesPublished,
		m.DropOnPublish, m.CancelDrop, m.BindFailures, m.InterfacesBound,
	)
	return m
}

// Aggregator holds every counter/gauge the aggregator binary exposes.
type Aggregator struct {
	FramesIngested     prometheus.Counter
	FlowsEvicted       prometheus.Counter
	PersistCycleErrors prometheus.Counter
	PersistCycleSecs   prometheus.Histogram
	ConstraintSkips    *prometheus.CounterVec // by entity class
	EventsDropped      prometheus.Counter
	DevicesTracked     prometheus.Gauge
	FlowsTracked       prometheus.Gauge
	BucketLateArrivals prometheus.Counter
}

// NewAggregator registers and returns the aggregator binary's metrics on reg.
func NewAggregator(reg prometheus.Registerer) *Aggregator {
	m := &Aggregator{
		FramesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "frames_ingested_total",
			Help:      "Frames applied to the in-memory model.",
		}),
		FlowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "flows_evicted_total",
			Help:      "Flows evicted by the flow_cap LRU path.",
		}),
		PersistCycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "persist_cycle_errors_total",
			Help:      "Persistence cycles that rolled back.",
		}),
		PersistCycleSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "persist_cycle_seconds",
			Help:      "Wall time of each persistence cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		ConstraintSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "constraint_skips_total",
			Help:      "Rows quarantined by a constraint violation, by entity class.",
		}, []string{"entity"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "events_dropped_total",
			Help:      "Domain events dropped due to in-process channel overflow.",
		}),
		DevicesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "devices_tracked",
			Help:      "Current number of devices held in the in-memory model.",
		}),
		FlowsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "flows_tracked",
			Help:      "Current number of flows held in the in-memory model.",
		}),
		BucketLateArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netsentinel",
			Subsystem: "aggregator",
			Name:      "bucket_late_arrivals_total",
			Help:      "Traffic-metric rows rejected for exceeding max_bucket_lookback.",
		}),
	}
	reg.MustRegister(
		m.FramesIngested, m.FlowsEvicted, m.PersistCycleErrors, m.PersistCycleSecs,
		m.ConstraintSkips, m.EventsDropped, m.DevicesTracked, m.FlowsTracked,
		m.BucketLateArrivals,
	)
	return m
}
