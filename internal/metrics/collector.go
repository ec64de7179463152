package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns the emitter's prometheus registry.
//
// A nil *Collector is valid and records nothing, so components can be
// built without metrics.
type Collector struct {
	registry *prometheus.Registry

	registerTotal  *prometheus.CounterVec
	deleteTotal    *prometheus.CounterVec
	registrations  prometheus.Gauge
	watchers       prometheus.Gauge
	publishes      prometheus.Counter
	watcherErrors  prometheus.Counter
	matchedTxs     prometheus.Counter
	chainLatencies *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry, including the Go
// runtime and process collectors
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		registerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_total",
			Help:      "Register calls by result",
		}, []string{"result"}),
		deleteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delete_total",
			Help:      "Delete calls by result",
		}, []string{"result"}),
		registrations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations",
			Help:      "Search keys currently registered",
		}),
		watchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchers_running",
			Help:      "Watcher tasks currently running",
		}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "publishes_total",
			Help:      "Tips published by watchers",
		}),
		watcherErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "errors_total",
			Help:      "Failed chain calls made by watchers",
		}),
		matchedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "matched_transactions_total",
			Help:      "Transactions matched by watched search keys",
		}),
		chainLatencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "request_duration_seconds",
			Help:      "Latency of chain-data requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.registerTotal,
		c.deleteTotal,
		c.registrations,
		c.watchers,
		c.publishes,
		c.watcherErrors,
		c.matchedTxs,
		c.chainLatencies,
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRegister counts a register call
func (c *Collector) RecordRegister(result Result) {
	if c == nil {
		return
	}
	c.registerTotal.WithLabelValues(string(result)).Inc()
}

// RecordDelete counts a delete call
func (c *Collector) RecordDelete(result Result) {
	if c == nil {
		return
	}
	c.deleteTotal.WithLabelValues(string(result)).Inc()
}

// SetRegistrations sets the registration gauge
func (c *Collector) SetRegistrations(n int) {
	if c == nil {
		return
	}
	c.registrations.Set(float64(n))
}

// SetWatchers sets the running watcher gauge
func (c *Collector) SetWatchers(n int64) {
	if c == nil {
		return
	}
	c.watchers.Set(float64(n))
}

// RecordPublish counts a tip published by a watcher
func (c *Collector) RecordPublish() {
	if c == nil {
		return
	}
	c.publishes.Inc()
}

// RecordWatcherError counts a failed watcher chain call
func (c *Collector) RecordWatcherError() {
	if c == nil {
		return
	}
	c.watcherErrors.Inc()
}

// RecordMatched counts transactions matched by a watcher
func (c *Collector) RecordMatched(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.matchedTxs.Add(float64(n))
}

// ObserveChainCall records the latency of a chain-data request
func (c *Collector) ObserveChainCall(method string, seconds float64) {
	if c == nil {
		return
	}
	c.chainLatencies.WithLabelValues(method).Observe(seconds)
}
