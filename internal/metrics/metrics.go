package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_batches_decoded_total",
		Help: "Message batches decoded and handed to the buffer engine.",
	})
	SpansAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_spans_admitted_total",
		Help: "Spans that passed the admission policy and were buffered.",
	})
	SpansDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_spans_dropped_total",
		Help: "Spans dropped by the admission policy before buffering.",
	})
	SegmentsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_segments_flushed_total",
		Help: "Segments emitted downstream and confirmed.",
	})
	SpansFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_spans_flushed_total",
		Help: "Span payloads contained in emitted segments.",
	})
	EmissionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_emission_retries_total",
		Help: "Downstream emission attempts that failed and were retried.",
	})
	FlushCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loom_flush_cycle_duration_seconds",
		Help:    "Wall-clock duration of one flush cycle across all owned shards.",
		Buckets: prometheus.DefBuckets,
	})
)
