package harness

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ticketlock_harness"

// Metrics counts what the workers did. Values accumulate across iterations and runs
// sharing a registerer.
type Metrics struct {
	Acquisitions    prometheus.Counter
	TryLockFailures prometheus.Counter
	Iterations      prometheus.Counter
	IterationTime   prometheus.Histogram
}

// NewMetrics creates the harness metrics and registers them on reg. If reg already holds
// harness metrics, those are returned so counts keep accumulating.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Acquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "acquisitions_total",
			Help:      "Critical sections entered on the lock under test.",
		}),
		TryLockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trylock_failures_total",
			Help:      "TryLock calls that found the lock held or lost the race.",
		}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "iterations_total",
			Help:      "Completed spawn/join iterations.",
		}),
		IterationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "iteration_seconds",
			Help:      "Wall time of one iteration, barrier included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	m.Acquisitions = register(reg, m.Acquisitions)
	m.TryLockFailures = register(reg, m.TryLockFailures)
	m.Iterations = register(reg, m.Iterations)
	m.IterationTime = register(reg, m.IterationTime)
	return m
}

// register adds c to reg, or returns the collector already registered in its place.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
