package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batcherOnce sync.Once
	batcherReg  *BatcherMetrics
)

// BatcherMetrics wraps collectors tracking the batch-submission pipeline.
type BatcherMetrics struct {
	submissions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	claims       *prometheus.CounterVec
	buildLatency *prometheus.HistogramVec
}

// Batcher returns the singleton metrics registry for the batching daemon.
func Batcher() *BatcherMetrics {
	batcherOnce.Do(func() {
		batcherReg = &BatcherMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merkledrop",
				Subsystem: "batcherd",
				Name:      "submissions_total",
				Help:      "Count of batch submissions segmented by category and outcome.",
			}, []string{"category", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merkledrop",
				Subsystem: "batcherd",
				Name:      "rejections_total",
				Help:      "Count of rejected submissions segmented by reason.",
			}, []string{"reason"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merkledrop",
				Subsystem: "batcherd",
				Name:      "claims_total",
				Help:      "Count of claim attempts observed segmented by outcome.",
			}, []string{"outcome"}),
			buildLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "merkledrop",
				Subsystem: "batcherd",
				Name:      "batch_build_duration_seconds",
				Help:      "Latency distribution for batch tree construction.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"category"}),
		}
		prometheus.MustRegister(
			batcherReg.submissions,
			batcherReg.rejections,
			batcherReg.claims,
			batcherReg.buildLatency,
		)
	})
	return batcherReg
}

// RecordSubmission counts one submission attempt and, on failure, the reason.
func (m *BatcherMetrics) RecordSubmission(category string, err error) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.rejections.WithLabelValues(reason).Inc()
	}
	m.submissions.WithLabelValues(category, outcome).Inc()
}

// RecordClaim counts one observed claim outcome.
func (m *BatcherMetrics) RecordClaim(err error) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	m.claims.WithLabelValues(outcome).Inc()
}

// ObserveBuild records how long one batch tree took to construct.
func (m *BatcherMetrics) ObserveBuild(category string, duration time.Duration) {
	if m == nil {
		return
	}
	m.buildLatency.WithLabelValues(category).Observe(duration.Seconds())
}
