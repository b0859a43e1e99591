package ctecache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Fingerprint is an opaque token identifying a cacheable subplan. Producers
// typically encode a hash of the canonicalized plan subtree.
type Fingerprint string

// handleState tracks where a handle lives in its lifecycle: reachable
// through the index, detached after being displaced by a newer admission,
// parked in the pending-delete table, or destroyed. Transitions happen under
// the handle mutex and are one-way into stateDestroyed.
type handleState uint8

const (
	stateLive handleState = iota
	stateDetached
	statePendingDelete
	stateDestroyed
)

// Handle describes one materialization: its identity, backing table, weight,
// production cost, usage counters, and reference count.
//
// A handle is created unpinned and uncommitted. Put pins it for the producer,
// Commit accounts its weight and makes it eligible for eviction. Consumers
// pin via Lookup and unpin via Done. The backing table is dropped exactly
// once, either when the handle leaves the index with no holders, or on the
// release that brings the reference count to zero afterwards.
type Handle struct {
	identifier   Fingerprint
	dataTable    string
	sourceTables []string
	createTime   int64
	dataSize     int64
	runtime      time.Duration

	accessCount atomic.Int64
	lastAccess  atomic.Int64
	committed   atomic.Bool

	// mu serializes the refcount against the park-or-destroy decision.
	mu            sync.Mutex
	refCount      int64
	state         handleState
	commitStarted bool
}

// NewHandle creates an uncommitted, unpinned handle.
//
// dataTable is the fully-qualified name of the backing table the producer
// will materialize into. sourceTables are the tables the materialization is
// computed from; the monitor watches them for mutations. dataSize is the
// expected weight in bytes and runtime the measured cost to produce the
// materialization.
func NewHandle(fp Fingerprint, dataTable string, sourceTables []string, dataSize int64, runtime time.Duration) *Handle {
	now := time.Now().UnixNano()
	h := &Handle{
		identifier:   fp,
		dataTable:    dataTable,
		sourceTables: sourceTables,
		createTime:   now,
		dataSize:     max(dataSize, 0),
		runtime:      runtime,
	}
	h.lastAccess.Store(now)
	return h
}

// Identifier returns the fingerprint the handle was admitted under.
func (h *Handle) Identifier() Fingerprint { return h.identifier }

// DataTable returns the fully-qualified name of the backing table.
func (h *Handle) DataTable() string { return h.dataTable }

// SourceTables returns the tables the materialization was computed from.
func (h *Handle) SourceTables() []string { return h.sourceTables }

// CreateTime returns the creation timestamp (UnixNano). It distinguishes
// successive handles admitted under the same fingerprint.
func (h *Handle) CreateTime() int64 { return h.createTime }

// DataSize returns the weight of the materialization in bytes.
func (h *Handle) DataSize() int64 { return h.dataSize }

// Runtime returns the measured cost to produce the materialization.
func (h *Handle) Runtime() time.Duration { return h.runtime }

// AccessCount returns the number of lookups that hit this handle.
func (h *Handle) AccessCount() int64 { return h.accessCount.Load() }

// LastAccessTime returns the UnixNano timestamp of the last hit, or the
// creation time if the handle has not been hit yet.
func (h *Handle) LastAccessTime() int64 { return h.lastAccess.Load() }

// Committed reports whether the producer has declared the materialization
// complete.
func (h *Handle) Committed() bool { return h.committed.Load() }

// RefCount returns the number of live holders.
func (h *Handle) RefCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.refCount
}

// grab pins the handle. Returns false if the handle has already been
// destroyed; a destroyed handle must never be handed to a caller.
func (h *Handle) grab() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateDestroyed {
		return false
	}
	h.refCount++
	return true
}

// touch records a hit.
func (h *Handle) touch() {
	h.accessCount.Add(1)
	h.lastAccess.Store(time.Now().UnixNano())
}

// release unpins the handle. destroy is true when this release brought a
// parked handle's refcount to zero: the caller must tear it down. A release
// on a destroyed handle is a late duplicate and is ignored.
func (h *Handle) release() (destroy, ignored bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateDestroyed {
		return false, true
	}
	if h.refCount > 0 {
		h.refCount--
	}
	if h.refCount <= 0 && h.state == statePendingDelete {
		h.state = stateDestroyed
		return true, false
	}
	return false, false
}

// retire decides the fate of a handle that just left the index. With holders
// it parks (statePendingDelete); without, it transitions to destroyed and the
// caller performs the teardown. debit is true when the handle's committed
// weight must be returned to the budget; it is decided in the same critical
// section as the commit accounting so the two can never both miss.
func (h *Handle) retire() (debit, destroy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateDestroyed {
		return false, false
	}
	debit = h.committed.Load()
	if h.refCount > 0 {
		h.state = statePendingDelete
		return debit, false
	}
	h.state = stateDestroyed
	return debit, true
}

// detach marks a handle displaced by a newer admission under the same
// fingerprint. It stays usable for outstanding holders but can no longer be
// committed; the displacing producer is responsible for its backing table.
// debit is true when the handle's committed weight must be returned to the
// budget.
func (h *Handle) detach() (debit bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateLive {
		return false
	}
	h.state = stateDetached
	return h.committed.Load()
}

// beginCommit claims the one-shot commit. It fails for repeated commits and
// for handles that were displaced or invalidated before the producer
// finished. The handle stays uncommitted through the pruning that follows,
// keeping it invisible to its own victim selection.
func (h *Handle) beginCommit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.commitStarted || h.state != stateLive {
		return false
	}
	h.commitStarted = true
	return true
}

// finishCommit flips the eviction-eligibility flag, unless the handle left
// the index while the commit was pruning. The flag flips in the same
// critical section as the state check: a later removal sees committed and
// debits the weight, an earlier one blocks the accounting entirely.
func (h *Handle) finishCommit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateLive {
		return false
	}
	h.committed.Store(true)
	return true
}
