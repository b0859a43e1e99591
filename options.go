package ctecache

import (
	"log/slog"

	"golang.org/x/time/rate"
)

type options struct {
	logger          *Logger
	metrics         MetricsCollector
	dropLimiter     *rate.Limiter
	dropConcurrency int
}

// Option configures Manager constructor behavior.
type Option func(*options)

// WithLogger configures structured logging for cache operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithDropRateLimit caps how many backing-table drops may be issued per
// second. Mass invalidation can otherwise flood the catalog with DDL.
// dropsPerSec <= 0 means unlimited.
func WithDropRateLimit(dropsPerSec float64) Option {
	return func(o *options) {
		if dropsPerSec <= 0 {
			o.dropLimiter = nil
			return
		}
		o.dropLimiter = rate.NewLimiter(rate.Limit(dropsPerSec), 1)
	}
}

// WithDropConcurrency bounds the number of concurrent catalog drops during
// InvalidateAll. Defaults to 4.
func WithDropConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.dropConcurrency = n
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:          NoopLogger(),
		metrics:         NoopMetricsCollector{},
		dropConcurrency: 4,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
