// Package metrics exposes Prometheus instrumentation for the watcher.
//
// Every recording method is safe to call on a nil *Metrics, so components
// can take an optional collector without guarding each call.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "hotreload").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for scan pass duration.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "hotreload",
		// Scans of small trees finish in well under a millisecond.
		Buckets:  []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		Registry: prometheus.DefaultRegisterer,
	}
}

// Metrics holds the watcher's collectors.
type Metrics struct {
	scanPasses      *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	trackedFiles    prometheus.Gauge
	notifyEvents    prometheus.Counter
	notifyOverflows prometheus.Counter
	reloads         prometheus.Counter
	suppressed      prometheus.Counter
	ticksSkipped    prometheus.Counter
	watchState      prometheus.Gauge
}

// New registers the collectors with the configured registry.
// Registering twice against the same registry panics, as promauto does.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		scanPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "scan_passes_total",
			Help:        "Total number of completed scan passes",
			ConstLabels: config.ConstLabels,
		}, []string{"changed"}),

		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "scan_pass_duration_seconds",
			Help:        "Duration of a full walk-diff-delete scan pass",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		trackedFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tracked_files",
			Help:        "Number of files in the identity table",
			ConstLabels: config.ConstLabels,
		}),

		notifyEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notify_events_total",
			Help:        "Total number of filesystem events drained",
			ConstLabels: config.ConstLabels,
		}),

		notifyOverflows: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notify_overflows_total",
			Help:        "Total number of kernel event queue overflows",
			ConstLabels: config.ConstLabels,
		}),

		reloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reloads_total",
			Help:        "Total number of reloads requested",
			ConstLabels: config.ConstLabels,
		}),

		suppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reloads_suppressed_total",
			Help:        "Total number of reload requests dropped by the debounce window",
			ConstLabels: config.ConstLabels,
		}),

		ticksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ticks_skipped_total",
			Help:        "Total number of timer ticks skipped while a pass was pending",
			ConstLabels: config.ConstLabels,
		}),

		watchState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "watch_state",
			Help:        "Current watcher state (0 uninitialized, 1 watching, 2 triggering)",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// ObservePass records one completed scan pass.
func (m *Metrics) ObservePass(changed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.scanPasses.WithLabelValues(strconv.FormatBool(changed)).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// SetTracked records the identity table size.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.trackedFiles.Set(float64(n))
}

// AddNotifyEvents records drained filesystem events.
func (m *Metrics) AddNotifyEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifyEvents.Add(float64(n))
}

// IncOverflow records a kernel queue overflow.
func (m *Metrics) IncOverflow() {
	if m == nil {
		return
	}
	m.notifyOverflows.Inc()
}

// IncReload records a reload that reached the trigger.
func (m *Metrics) IncReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}

// IncSuppressed records a reload request dropped by the debouncer.
func (m *Metrics) IncSuppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

// IncTickSkipped records a periodic tick dropped because the previous job
// had not finished.
func (m *Metrics) IncTickSkipped() {
	if m == nil {
		return
	}
	m.ticksSkipped.Inc()
}

// SetState records the watcher state as a number.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.watchState.Set(float64(state))
}
