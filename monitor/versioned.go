package monitor

import (
	"context"
	"sync"

	"github.com/hupe1980/ctecache/catalog"
)

// Versioned is an in-process Monitor that assigns each table a version and
// bumps it on every observed write. A materialization is valid while the
// versions of all of its source tables match the snapshot taken when it was
// registered.
// Thread-safe for concurrent use.
type Versioned struct {
	mu       sync.RWMutex
	versions map[string]uint64
	// registrations are keyed by backing table + creation time, so two
	// generations of the same fingerprint track independent snapshots.
	registered map[registrationKey]map[string]uint64
}

type registrationKey struct {
	dataTable  string
	createTime int64
}

// NewVersioned creates a new version-tracking monitor.
func NewVersioned() *Versioned {
	return &Versioned{
		versions:   make(map[string]uint64),
		registered: make(map[registrationKey]map[string]uint64),
	}
}

// RecordWrite notes a mutation of a source table, invalidating every
// materialization registered against it.
func (v *Versioned) RecordWrite(table string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.versions[table]++
}

// Monitor implements Monitor.
func (v *Versioned) Monitor(_ context.Context, _ catalog.Session, m Materialization) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	snapshot := make(map[string]uint64, len(m.SourceTables()))
	for _, t := range m.SourceTables() {
		snapshot[t] = v.versions[t]
	}
	v.registered[registrationKey{m.DataTable(), m.CreateTime()}] = snapshot
	return nil
}

// Unmonitor implements Monitor.
func (v *Versioned) Unmonitor(_ context.Context, _ catalog.Session, m Materialization) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.registered, registrationKey{m.DataTable(), m.CreateTime()})
	return nil
}

// IsValid implements Monitor.
func (v *Versioned) IsValid(_ context.Context, _ catalog.Session, m Materialization) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snapshot, ok := v.registered[registrationKey{m.DataTable(), m.CreateTime()}]
	if !ok {
		return false, nil
	}
	for t, ver := range snapshot {
		if v.versions[t] != ver {
			return false, nil
		}
	}
	return true, nil
}

// Registered returns the number of tracked materializations.
func (v *Versioned) Registered() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.registered)
}
