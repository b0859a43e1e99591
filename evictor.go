package ctecache

import (
	"cmp"
	"slices"

	"github.com/hupe1980/ctecache/internal/cache"
)

// selectVictims picks committed, unreferenced entries to invalidate so that
// freeing their weights covers deficit bytes.
//
// Victims are taken in ascending order of (runtime, accessCount, dataSize,
// lastAccessTime): the materialization that is cheapest to recompute, least
// used, smallest, and stalest goes first. Final ties break on the
// fingerprint. If the candidates cannot cover the deficit, everything
// eligible is returned and the cache overflows transiently.
func selectVictims(snapshot []cache.Entry[Fingerprint, *Handle], deficit int64) []Fingerprint {
	candidates := snapshot[:0:0]
	for _, e := range snapshot {
		if e.Value.Committed() && e.Value.RefCount() <= 0 {
			candidates = append(candidates, e)
		}
	}

	slices.SortFunc(candidates, func(a, b cache.Entry[Fingerprint, *Handle]) int {
		if c := cmp.Compare(a.Value.Runtime(), b.Value.Runtime()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Value.AccessCount(), b.Value.AccessCount()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Value.DataSize(), b.Value.DataSize()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Value.LastAccessTime(), b.Value.LastAccessTime()); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	var victims []Fingerprint
	for _, e := range candidates {
		if deficit <= 0 {
			break
		}
		victims = append(victims, e.Key)
		deficit -= e.Value.DataSize()
	}
	return victims
}
