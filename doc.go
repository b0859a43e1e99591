// Package ctecache provides a concurrent, weight-bounded cache for
// materialized query-plan subtrees (Common Table Expressions).
//
// A planner that decides to materialize a CTE writes its result into a
// backing table owned by an external catalog and registers the result here
// under an opaque plan fingerprint. Later plans that produce the same
// fingerprint can consume the cached materialization instead of recomputing
// it.
//
// The manager decouples eviction from destruction: an entry removed from the
// lookup index may still have live readers, so the backing table is only
// dropped once the last reader releases its pin. Destruction happens exactly
// once per materialization.
//
// # Quick Start
//
//	cat := catalog.NewMemory()
//	mon := monitor.NewVersioned()
//	mgr, err := ctecache.New(ctecache.Config{
//	    Enabled:      true,
//	    MaxSizeBytes: 1 << 30, // 1GiB of materialized data
//	}, cat, mon)
//	if err != nil {
//	    panic(err)
//	}
//	mgr.SetReady()
//
//	session := catalog.Session{User: "alice", QueryID: "q-1"}
//
//	// Producer side: admit, materialize, commit.
//	h := ctecache.NewHandle(fp, "cache.cte_ab12", []string{"tpch.orders"}, 128<<20, 42*time.Second)
//	mgr.Put(ctx, session, h)
//	// ... write rows into cache.cte_ab12 ...
//	mgr.Commit(ctx, session, h)
//
//	// Consumer side: pin on hit, release when the query completes.
//	if h, ok := mgr.Lookup(ctx, session, fp); ok {
//	    defer mgr.Done(ctx, session, h.Identifier(), h.CreateTime())
//	    // ... rewrite the plan to scan h.DataTable() ...
//	}
//
// Prefer Manager.With for consumer access; it guarantees the release on every
// exit path, including panics.
//
// # Collaborators
//
// The catalog (table resolution and drops) and the validity monitor (source
// table freshness) are consumed through the narrow contracts in the catalog
// and monitor subpackages. In-memory implementations are provided for tests
// and embedding. The S3 and MinIO catalog backends cover object-store
// deployments where a "table" is an object prefix; the DynamoDB backend keeps
// one metadata item per table.
package ctecache
