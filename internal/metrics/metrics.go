// Package metrics exposes the engine's runtime counters/histograms as a
// prometheus.Collector: containers started, wait-strategy latency by
// kind, and cleanup failures from the rescue executor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements lifecycle.MetricsSink and prometheus.Collector so
// callers can plug it into their own registry
// (`prometheus.MustRegister(tcgo.EngineMetrics())`).
type Collector struct {
	started      prometheus.Counter
	startFailed  prometheus.Counter
	cleanupFail  prometheus.Counter
	waitDuration *prometheus.HistogramVec
	waitErrors   *prometheus.CounterVec
}

// New constructs a Collector. namespace/subsystem follow the
// client_golang convention of prefixing every metric name.
func New(namespace, subsystem string) *Collector {
	return &Collector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "containers_started_total",
			Help:      "Containers successfully started and made ready.",
		}),
		startFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "container_start_failures_total",
			Help:      "Container start attempts that did not reach ready.",
		}),
		cleanupFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cleanup_failures_total",
			Help:      "Cleanup attempts (stop/remove) that returned an error.",
		}),
		waitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wait_strategy_duration_seconds",
			Help:      "Time spent in each wait strategy, by concrete type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		waitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wait_strategy_errors_total",
			Help:      "Wait strategy resolutions that returned an error, by kind.",
		}, []string{"kind"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.started.Describe(ch)
	c.startFailed.Describe(ch)
	c.cleanupFail.Describe(ch)
	c.waitDuration.Describe(ch)
	c.waitErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.started.Collect(ch)
	c.startFailed.Collect(ch)
	c.cleanupFail.Collect(ch)
	c.waitDuration.Collect(ch)
	c.waitErrors.Collect(ch)
}

// ContainerStarted implements lifecycle.MetricsSink.
func (c *Collector) ContainerStarted() { c.started.Inc() }

// ContainerStartFailed implements lifecycle.MetricsSink.
func (c *Collector) ContainerStartFailed() { c.startFailed.Inc() }

// CleanupFailed implements lifecycle.MetricsSink.
func (c *Collector) CleanupFailed() { c.cleanupFail.Inc() }

// WaitStrategyObserved implements lifecycle.MetricsSink.
func (c *Collector) WaitStrategyObserved(kind string, d time.Duration, err error) {
	c.waitDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		c.waitErrors.WithLabelValues(kind).Inc()
	}
}
