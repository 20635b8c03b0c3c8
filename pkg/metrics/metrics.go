// Package metrics exposes Prometheus collectors for localstore managers,
// backends and the relay hub.
//
// All Collector methods are safe on a nil receiver, so instrumented code
// does not need to check whether metrics are enabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read outcomes.
const (
	OutcomeValue       = "value"
	OutcomeMissing     = "missing"
	OutcomeUnavailable = "unavailable"
	OutcomeDecodeError = "decode_error"
	OutcomeInvalid     = "invalid"
	OutcomeStoreError  = "store_error"
)

// Notification origins.
const (
	OriginLocal    = "local"
	OriginExternal = "external"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "localstore").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for storage read duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
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
		Namespace: "localstore",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds the localstore metrics.
type Collector struct {
	reads         *prometheus.CounterVec
	readDuration  prometheus.Histogram
	cache         *prometheus.CounterVec
	writes        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	relayMessages prometheus.Counter
}

// New creates and registers the collectors. Registering twice on the same
// registry panics, as with promauto.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		reads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reads_total",
			Help:        "Storage reads by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		readDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "read_duration_seconds",
			Help:        "Storage read duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		cache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cache_lookups_total",
			Help:        "Cache lookups by result (hit or miss)",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		writes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "writes_total",
			Help:        "Storage writes by operation and status",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "status"}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Change notifications received by origin",
			ConstLabels: config.ConstLabels,
		}, []string{"origin"}),

		relayMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "relay_messages_total",
			Help:        "Change messages rebroadcast by the relay hub",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// ObserveRead records a storage read outcome. A zero duration (no storage
// round trip) is not observed.
func (c *Collector) ObserveRead(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.reads.WithLabelValues(outcome).Inc()
	if d > 0 {
		c.readDuration.Observe(d.Seconds())
	}
}

// CacheHit records a Get served from the cache.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.cache.WithLabelValues("hit").Inc()
}

// CacheMiss records a Get that had to read storage.
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.cache.WithLabelValues("miss").Inc()
}

// ObserveWrite records a set or remove. op is "set" or "remove".
func (c *Collector) ObserveWrite(op string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.writes.WithLabelValues(op, status).Inc()
}

// Notification records a received change notification.
func (c *Collector) Notification(origin string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(origin).Inc()
}

// RelayMessage records a message rebroadcast by the relay hub.
func (c *Collector) RelayMessage() {
	if c == nil {
		return
	}
	c.relayMessages.Inc()
}
