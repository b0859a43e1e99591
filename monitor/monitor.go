// Package monitor defines the validity contract for cached materializations.
//
// A materialization is only as fresh as the source tables it was computed
// from. The monitor observes writes against those tables and reports whether
// a given materialization may still be served.
package monitor

import (
	"context"

	"github.com/hupe1980/ctecache/catalog"
)

// Materialization is the monitor's view of a cached materialization.
// The cache manager's handle type implements it.
type Materialization interface {
	// DataTable returns the fully-qualified name of the backing table.
	DataTable() string
	// SourceTables returns the fully-qualified names of the tables the
	// materialization was computed from.
	SourceTables() []string
	// CreateTime returns the creation timestamp (UnixNano) distinguishing
	// successive materializations of the same plan.
	CreateTime() int64
}

// Monitor tracks source-table mutations for registered materializations.
//
// Implementations must be safe for concurrent use and must not retain
// internal locks across calls back into the catalog.
type Monitor interface {
	// Monitor registers interest in the source tables of m.
	Monitor(ctx context.Context, session catalog.Session, m Materialization) error

	// Unmonitor deregisters m. Called immediately before the backing table
	// is dropped. Unknown registrations are a no-op.
	Unmonitor(ctx context.Context, session catalog.Session, m Materialization) error

	// IsValid reports whether m may still be served: it returns false if any
	// source table of m has been modified since the materialization was
	// registered. Unknown registrations are invalid.
	IsValid(ctx context.Context, session catalog.Session, m Materialization) (bool, error)
}
