package localstore

import (
	"log/slog"
	"time"

	"github.com/vango-dev/localstore/pkg/metrics"
)

// DefaultTimeout bounds each storage call.
const DefaultTimeout = 5 * time.Second

// Option configures a Manager.
type Option func(*options)

type options struct {
	host    *Host
	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration
}

// WithHost sets the platform capability. Without it the store is
// unavailable.
func WithHost(h *Host) Option {
	return func(o *options) {
		o.host = h
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTimeout bounds each storage call.
// Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}
