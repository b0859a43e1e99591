package ctecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/ctecache/catalog"
	"github.com/hupe1980/ctecache/internal/cache"
	"github.com/hupe1980/ctecache/monitor"
)

// Session is the identity under which catalog and monitor calls run.
type Session = catalog.Session

// Config holds the manager configuration.
type Config struct {
	// Enabled turns CTE materialization caching on. When false, every
	// operation degrades to a no-op and Lookup always misses.
	Enabled bool

	// MaxSizeBytes is the weight budget: the summed DataSize of committed,
	// indexed materializations does not exceed it except transiently between an
	// admission and the prune that follows.
	MaxSizeBytes int64

	// CachingUserName is the identity under which backing tables are dropped
	// during background invalidation. Empty keeps the caller's identity.
	CachingUserName string
}

// Stats is a point-in-time snapshot of manager state.
type Stats struct {
	CurrentSizeBytes     int64
	MaxSizeBytes         int64
	IndexedEntries       int
	IndexedWeightBytes   int64
	PendingDeleteEntries int
	Hits                 int64
	Misses               int64
	Evictions            int64
}

// Manager memoizes materialized CTE results by fingerprint.
//
// All methods are safe for concurrent use. The public surface never returns
// an error: disabled, not-found, and stale conditions resolve to misses or
// no-ops, and catalog/monitor failures are logged and recovered locally.
type Manager struct {
	cfg     Config
	index   *cache.Index[Fingerprint, *Handle]
	pending *pendingTable
	catalog catalog.Catalog
	monitor monitor.Monitor

	currentSize atomic.Int64
	ready       atomic.Bool

	// destroyMu guards the queue of handles retired by the index removal
	// hook; the initiating operation drains it once the index lock is gone.
	destroyMu sync.Mutex
	destroyQ  []*Handle

	logger          *Logger
	metrics         MetricsCollector
	dropLimiter     *rate.Limiter
	dropConcurrency int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Manager. cat and mon must not be nil; when cfg.Enabled is
// set, cfg.MaxSizeBytes must be positive.
func New(cfg Config, cat catalog.Catalog, mon monitor.Monitor, optFns ...Option) (*Manager, error) {
	if cat == nil {
		return nil, ErrNilCatalog
	}
	if mon == nil {
		return nil, ErrNilMonitor
	}
	if cfg.Enabled && cfg.MaxSizeBytes <= 0 {
		return nil, &ErrInvalidMaxSize{Size: cfg.MaxSizeBytes}
	}

	o := applyOptions(optFns)

	m := &Manager{
		cfg:             cfg,
		catalog:         cat,
		monitor:         mon,
		logger:          o.logger,
		metrics:         o.metrics,
		dropLimiter:     o.dropLimiter,
		dropConcurrency: o.dropConcurrency,
	}

	if cfg.Enabled {
		m.index = cache.NewIndex[Fingerprint, *Handle](
			func(h *Handle) int64 { return h.DataSize() },
			m.onIndexRemove,
		)
		m.pending = newPendingTable()
	}

	return m, nil
}

// IsEnabled reports whether the manager is configured and ready. Planners
// must consult it before rewriting plans against the cache.
func (m *Manager) IsEnabled() bool {
	return m.cfg.Enabled && m.ready.Load()
}

// SetReady opens the manager for plan rewriting. Idempotent.
func (m *Manager) SetReady() {
	m.ready.Store(true)
}

// Lookup returns the live materialization for fp, pinned, or a miss.
//
// A stale entry (source tables mutated since the materialization was built)
// is invalidated on the way out and reported as a miss. The caller of a
// successful Lookup must call Done exactly once with the handle's
// fingerprint and creation time; prefer With, which guarantees it.
func (m *Manager) Lookup(ctx context.Context, session Session, fp Fingerprint) (*Handle, bool) {
	if !m.cfg.Enabled {
		return nil, false
	}
	start := time.Now()

	h, ok := m.index.Get(fp)
	if !ok {
		m.misses.Add(1)
		m.metrics.RecordLookup(false, time.Since(start))
		return nil, false
	}

	valid, err := m.monitor.IsValid(ctx, session, h)
	if err != nil {
		m.logger.Warn("validity check failed, invalidating entry",
			"fingerprint", string(fp), "error", err)
		valid = false
	}
	if !valid {
		m.logger.Debug("stale materialization detected",
			"fingerprint", string(fp), "data_table", h.DataTable())
		if m.removeEntries([]cache.Entry[Fingerprint, *Handle]{{Key: fp, Value: h}}, cache.ReasonExplicit) > 0 {
			m.drainDestroys(ctx, session)
		}
		m.misses.Add(1)
		m.metrics.RecordLookup(false, time.Since(start))
		return nil, false
	}

	if !h.grab() {
		// Destroyed between the index read and the pin; treat as a miss.
		m.misses.Add(1)
		m.metrics.RecordLookup(false, time.Since(start))
		return nil, false
	}
	h.touch()

	m.hits.Add(1)
	m.metrics.RecordLookup(true, time.Since(start))
	return h, true
}

// Put admits an uncommitted materialization under its fingerprint and pins
// it for the producer. The producer writes the backing table out-of-band and
// then calls Commit. An entry displaced by the same fingerprint is neither
// dropped nor parked; the producer replacing it is responsible for it.
func (m *Manager) Put(ctx context.Context, session Session, h *Handle) {
	if !m.cfg.Enabled {
		return
	}
	start := time.Now()

	if err := m.monitor.Monitor(ctx, session, h); err != nil {
		// The entry will fail its first validity check and be invalidated.
		m.logger.Warn("monitor registration failed",
			"fingerprint", string(h.Identifier()), "error", err)
	}
	h.grab()
	m.index.Put(h.Identifier(), h)

	m.metrics.RecordPut(time.Since(start))
}

// Commit declares the materialization for h complete: the producer pin is
// released, headroom is made by evicting committed, unreferenced entries if
// needed, and the handle's weight is accounted. After Commit the entry is
// visible to eviction victim selection.
//
// h must be the handle previously passed to Put. If the entry was
// invalidated while the producer was materializing, Commit only releases the
// pin (destroying the parked handle) and accounts nothing.
func (m *Manager) Commit(ctx context.Context, session Session, h *Handle) {
	if !m.cfg.Enabled {
		return
	}
	start := time.Now()

	m.logger.Debug("cache materialization completed",
		"fingerprint", string(h.Identifier()), "data_table", h.DataTable())

	m.Done(ctx, session, h.Identifier(), h.CreateTime())

	if !h.beginCommit() {
		m.metrics.RecordCommit(time.Since(start), 0)
		return
	}

	evicted := 0
	if !m.sizeAvailable(h.DataSize()) {
		evicted = m.prune(ctx, session, h.DataSize())
	}
	if h.finishCommit() {
		m.currentSize.Add(h.DataSize())
	}

	m.metrics.RecordCommit(time.Since(start), evicted)
}

// Done releases one pin on the materialization identified by (fp,
// createTime), whether it is still indexed or already awaiting deletion. If
// this was the last pin on an entry awaiting deletion, the backing table is
// dropped before Done returns. Unknown pairs are late or duplicate releases
// and are ignored.
func (m *Manager) Done(ctx context.Context, session Session, fp Fingerprint, createTime int64) {
	if !m.cfg.Enabled {
		return
	}

	if h, ok := m.index.Get(fp); ok && h.CreateTime() == createTime {
		m.releaseHandle(ctx, session, fp, h)
		return
	}
	if h, ok := m.pending.get(fp, createTime); ok {
		m.releaseHandle(ctx, session, fp, h)
		return
	}

	m.logger.Debug("release for unknown materialization",
		"fingerprint", string(fp), "create_time", createTime)
}

// With looks up fp and, on a hit, runs fn with the pinned handle. The pin is
// released on every exit path, including a panic in fn. Returns whether the
// lookup hit and fn's error.
func (m *Manager) With(ctx context.Context, session Session, fp Fingerprint, fn func(*Handle) error) (bool, error) {
	h, ok := m.Lookup(ctx, session, fp)
	if !ok {
		return false, nil
	}
	defer m.Done(ctx, session, fp, h.CreateTime())

	return true, fn(h)
}

// Invalidate removes the given fingerprints from the index. Unreferenced
// entries are torn down before Invalidate returns; pinned entries are parked
// until their last release. Repeated invalidation of the same fingerprint is
// a no-op.
func (m *Manager) Invalidate(ctx context.Context, session Session, fps []Fingerprint) {
	if !m.cfg.Enabled {
		return
	}

	if m.removeEntries(m.index.GetAll(fps), cache.ReasonExplicit) > 0 {
		m.drainDestroys(ctx, session)
	}
}

// InvalidateAll removes every indexed entry. Backing tables are dropped
// concurrently under the configured caching user identity.
func (m *Manager) InvalidateAll(ctx context.Context, session Session) {
	if !m.cfg.Enabled {
		return
	}

	if m.cfg.CachingUserName != "" {
		session = session.WithUser(m.cfg.CachingUserName)
	}
	if m.removeEntries(m.index.Snapshot(), cache.ReasonExplicit) > 0 {
		m.drainDestroysParallel(ctx, session)
	}
}

// Walk applies fn to the currently indexed entries among fps.
func (m *Manager) Walk(fps []Fingerprint, fn func(Fingerprint, *Handle)) {
	if !m.cfg.Enabled || fn == nil {
		return
	}
	for _, e := range m.index.GetAll(fps) {
		fn(e.Key, e.Value)
	}
}

// WalkAll applies fn to every currently indexed entry.
func (m *Manager) WalkAll(fn func(Fingerprint, *Handle)) {
	if !m.cfg.Enabled || fn == nil {
		return
	}
	for _, e := range m.index.Snapshot() {
		fn(e.Key, e.Value)
	}
}

// Stats returns a point-in-time snapshot of manager state.
func (m *Manager) Stats() Stats {
	s := Stats{
		MaxSizeBytes: m.cfg.MaxSizeBytes,
		Hits:         m.hits.Load(),
		Misses:       m.misses.Load(),
		Evictions:    m.evictions.Load(),
	}
	if !m.cfg.Enabled {
		return s
	}
	s.CurrentSizeBytes = m.currentSize.Load()
	s.IndexedEntries = m.index.Len()
	s.IndexedWeightBytes = m.index.Weight()
	s.PendingDeleteEntries = m.pending.len()
	return s
}

func (m *Manager) sizeAvailable(required int64) bool {
	return m.cfg.MaxSizeBytes >= m.currentSize.Load()+required
}

// prune makes headroom for required bytes by invalidating committed,
// unreferenced entries in ascending priority order. Returns the number of
// entries evicted; the deficit may remain partially uncovered when every
// other entry is pinned or uncommitted.
func (m *Manager) prune(ctx context.Context, session Session, required int64) int {
	deficit := required - (m.cfg.MaxSizeBytes - m.currentSize.Load())
	victims := selectVictims(m.index.Snapshot(), deficit)
	if len(victims) == 0 {
		return 0
	}

	removed := m.removeEntries(m.index.GetAll(victims), cache.ReasonEvicted)
	if removed > 0 {
		m.evictions.Add(int64(removed))
		m.drainDestroys(ctx, session)
	}
	return removed
}

// onIndexRemove is the index removal hook. It runs under the index mutex and
// keeps the committed-weight counter consistent: a committed entry's weight
// is debited the moment it leaves the index, whatever the reason.
//
// For evictions and explicit invalidation it also settles the handle's fate:
// pinned handles are parked in the pending-delete table, unpinned ones are
// queued for teardown. Replaced handles are left to the displacing producer.
func (m *Manager) onIndexRemove(fp Fingerprint, h *Handle, reason cache.RemovalReason) {
	if reason == cache.ReasonReplaced {
		if h.detach() {
			m.currentSize.Add(-h.DataSize())
		}
		m.logger.Debug("materialized entry replaced",
			"fingerprint", string(fp), "data_table", h.DataTable())
		return
	}

	if reason == cache.ReasonEvicted {
		m.logger.Info("materialized entry evicted",
			"cause", reason.String(), "fingerprint", string(fp),
			"data_table", h.DataTable(), "data_size", h.DataSize())
	} else {
		m.logger.Debug("materialized entry invalidated",
			"fingerprint", string(fp), "data_table", h.DataTable())
	}

	// Parking must happen before the index lock is released so a concurrent
	// Done always finds the handle in the index or in the pending table.
	m.pending.park(fp, h.CreateTime(), h)
	debit, destroy := h.retire()
	if debit {
		m.currentSize.Add(-h.DataSize())
	}
	if destroy {
		m.pending.remove(fp, h.CreateTime())
		m.queueDestroy(h)
	}
}

// removeEntries removes the given entries from the index, skipping any that
// were concurrently removed or replaced. The removal hook settles parking
// and queues teardowns; callers drain the queue afterwards.
func (m *Manager) removeEntries(entries []cache.Entry[Fingerprint, *Handle], reason cache.RemovalReason) int {
	removed := 0
	for _, e := range entries {
		if m.index.CompareAndRemove(e.Key, e.Value, reason) {
			removed++
		}
	}
	return removed
}

func (m *Manager) releaseHandle(ctx context.Context, session Session, fp Fingerprint, h *Handle) {
	destroy, ignored := h.release()
	if ignored {
		m.logger.Debug("release after destruction",
			"fingerprint", string(fp), "create_time", h.CreateTime())
		return
	}
	if destroy {
		m.pending.remove(fp, h.CreateTime())
		m.teardown(ctx, session, h)
	}
}

func (m *Manager) queueDestroy(h *Handle) {
	m.destroyMu.Lock()
	defer m.destroyMu.Unlock()

	m.destroyQ = append(m.destroyQ, h)
}

func (m *Manager) takeDestroys() []*Handle {
	m.destroyMu.Lock()
	defer m.destroyMu.Unlock()

	q := m.destroyQ
	m.destroyQ = nil
	return q
}

func (m *Manager) drainDestroys(ctx context.Context, session Session) {
	for _, h := range m.takeDestroys() {
		m.teardown(ctx, session, h)
	}
}

func (m *Manager) drainDestroysParallel(ctx context.Context, session Session) {
	retired := m.takeDestroys()
	if len(retired) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.dropConcurrency)
	for _, h := range retired {
		g.Go(func() error {
			m.teardown(ctx, session, h)
			return nil
		})
	}
	_ = g.Wait()
}

// teardown stops monitoring and drops the backing table. Failures are logged
// and swallowed: the handle is already dead locally, and an orphaned backing
// table is an operational concern, not a cache-correctness one.
func (m *Manager) teardown(ctx context.Context, session Session, h *Handle) {
	if err := m.monitor.Unmonitor(ctx, session, h); err != nil {
		m.logger.Warn("monitor deregistration failed",
			"data_table", h.DataTable(), "error", err)
	}

	if m.dropLimiter != nil {
		if err := m.dropLimiter.Wait(ctx); err != nil {
			m.logger.Warn("drop rate limiter interrupted", "error", err)
		}
	}

	start := time.Now()
	th, err := m.catalog.TableHandle(ctx, session, h.DataTable())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			m.metrics.RecordDrop(time.Since(start), nil)
			m.logger.Debug("backing table already gone", "data_table", h.DataTable())
		} else {
			m.metrics.RecordDrop(time.Since(start), err)
			m.logger.Warn("backing table resolution failed",
				"data_table", h.DataTable(), "error", err)
		}
		return
	}

	err = m.catalog.DropTable(ctx, session, th)
	m.metrics.RecordDrop(time.Since(start), err)
	if err != nil {
		m.logger.Warn("backing table drop failed",
			"data_table", h.DataTable(), "error", err)
	}
}
