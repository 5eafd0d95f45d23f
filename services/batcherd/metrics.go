package batcherd

import "merkledrop/observability"

// Metrics exposes Prometheus collectors for batcherd instrumentation.
type Metrics = observability.BatcherMetrics

// NewMetrics returns the lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Batcher() }
