package cache

import (
	"fmt"
	"sync"
	"testing"
)

type removal struct {
	key    string
	value  int
	reason RemovalReason
}

func newRecordedIndex() (*Index[string, int], *[]removal) {
	removals := &[]removal{}
	idx := NewIndex[string, int](
		func(v int) int64 { return int64(v) },
		func(k string, v int, r RemovalReason) {
			*removals = append(*removals, removal{k, v, r})
		},
	)
	return idx, removals
}

func TestIndex_PutGet(t *testing.T) {
	idx, _ := newRecordedIndex()

	if _, ok := idx.Get("a"); ok {
		t.Fatal("expected miss on empty index")
	}

	idx.Put("a", 10)
	v, ok := idx.Get("a")
	if !ok || v != 10 {
		t.Fatalf("got (%d, %v), want (10, true)", v, ok)
	}

	if got := idx.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if got := idx.Weight(); got != 10 {
		t.Fatalf("Weight() = %d, want 10", got)
	}
}

func TestIndex_PutReplaces(t *testing.T) {
	idx, removals := newRecordedIndex()

	idx.Put("a", 10)
	idx.Put("a", 20)

	if len(*removals) != 1 {
		t.Fatalf("removals = %d, want 1", len(*removals))
	}
	r := (*removals)[0]
	if r.key != "a" || r.value != 10 || r.reason != ReasonReplaced {
		t.Fatalf("unexpected removal %+v", r)
	}

	v, _ := idx.Get("a")
	if v != 20 {
		t.Fatalf("got %d, want 20", v)
	}
	if got := idx.Weight(); got != 20 {
		t.Fatalf("Weight() = %d, want 20", got)
	}
}

func TestIndex_CompareAndRemove(t *testing.T) {
	idx, removals := newRecordedIndex()

	idx.Put("a", 10)

	if idx.CompareAndRemove("a", 99, ReasonExplicit) {
		t.Fatal("removal with stale value should fail")
	}
	if idx.CompareAndRemove("missing", 1, ReasonExplicit) {
		t.Fatal("removal of absent key should fail")
	}
	if len(*removals) != 0 {
		t.Fatalf("hook fired on failed removal: %+v", *removals)
	}

	if !idx.CompareAndRemove("a", 10, ReasonEvicted) {
		t.Fatal("removal should succeed")
	}
	if idx.CompareAndRemove("a", 10, ReasonEvicted) {
		t.Fatal("second removal should fail")
	}

	if len(*removals) != 1 || (*removals)[0].reason != ReasonEvicted {
		t.Fatalf("unexpected removals %+v", *removals)
	}
	if got := idx.Weight(); got != 0 {
		t.Fatalf("Weight() = %d, want 0", got)
	}
}

func TestIndex_SnapshotAndGetAll(t *testing.T) {
	idx, _ := newRecordedIndex()

	idx.Put("a", 1)
	idx.Put("b", 2)
	idx.Put("c", 3)

	snap := idx.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(snap))
	}

	got := idx.GetAll([]string{"c", "missing", "a"})
	if len(got) != 2 {
		t.Fatalf("GetAll length = %d, want 2", len(got))
	}
	if got[0].Key != "c" || got[1].Key != "a" {
		t.Fatalf("GetAll order = %v, want [c a]", got)
	}
}

func TestIndex_ReasonString(t *testing.T) {
	cases := map[RemovalReason]string{
		ReasonEvicted:     "evicted",
		ReasonExplicit:    "explicit",
		ReasonReplaced:    "replaced",
		RemovalReason(42): "unknown",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestIndex_Concurrent(t *testing.T) {
	idx := NewIndex[string, int](func(v int) int64 { return 1 }, nil)

	const numGoroutines = 32
	const numOpsPerGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := range numGoroutines {
		go func(id int) {
			defer wg.Done()
			for i := range numOpsPerGoroutine {
				key := fmt.Sprintf("k-%d", i%50)
				switch i % 3 {
				case 0:
					idx.Put(key, id)
				case 1:
					idx.Get(key)
				default:
					if v, ok := idx.Get(key); ok {
						idx.CompareAndRemove(key, v, ReasonExplicit)
					}
				}
			}
		}(g)
	}
	wg.Wait()

	if got := idx.Weight(); got != int64(idx.Len()) {
		t.Fatalf("Weight() = %d, want %d (one per entry)", got, idx.Len())
	}
}
