package ctecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordLookup is called after each lookup operation.
	// hit is true when a valid pinned handle was returned.
	RecordLookup(hit bool, duration time.Duration)

	// RecordPut is called after each admission.
	RecordPut(duration time.Duration)

	// RecordCommit is called after each commit.
	// evicted is the number of entries invalidated to make headroom.
	RecordCommit(duration time.Duration, evicted int)

	// RecordDrop is called after each backing-table drop attempt.
	// err is nil if the catalog drop succeeded.
	RecordDrop(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLookup(bool, time.Duration) {}
func (NoopMetricsCollector) RecordPut(time.Duration)          {}
func (NoopMetricsCollector) RecordCommit(time.Duration, int)  {}
func (NoopMetricsCollector) RecordDrop(time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LookupCount      atomic.Int64
	LookupHits       atomic.Int64
	LookupTotalNanos atomic.Int64
	PutCount         atomic.Int64
	CommitCount      atomic.Int64
	CommitEvicted    atomic.Int64
	DropCount        atomic.Int64
	DropErrors       atomic.Int64
	DropTotalNanos   atomic.Int64
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(hit bool, duration time.Duration) {
	b.LookupCount.Add(1)
	b.LookupTotalNanos.Add(duration.Nanoseconds())
	if hit {
		b.LookupHits.Add(1)
	}
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(time.Duration) {
	b.PutCount.Add(1)
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ time.Duration, evicted int) {
	b.CommitCount.Add(1)
	b.CommitEvicted.Add(int64(evicted))
}

// RecordDrop implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDrop(duration time.Duration, err error) {
	b.DropCount.Add(1)
	b.DropTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DropErrors.Add(1)
	}
}
