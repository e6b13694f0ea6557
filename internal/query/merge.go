package query

import (
	"container/heap"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/memtable"
	"github.com/keystonedb/keystone/internal/sst"
)

// memSource and sstSources name the exact parameter types
// *lsm.Engine.WithStripeRLock hands its callback, so this package
// never needs its own snapshot type.
type memSource = *memtable.Memtable
type sstSources = []*sst.Reader

// mergeWithinPrefix merges the memtable and every SST reader's
// records sharing encodedPrefix, newest source wins on duplicate
// keys, and tombstones are suppressed (a Query/Scan never surfaces a
// deleted key).
func mergeWithinPrefix(mem memSource, ssts sstSources, encodedPrefix []byte, forward bool) []base.Record {
	sources := make([]base.Cursor, 0, len(ssts)+1)
	sources = append(sources, mem.PrefixCursor(encodedPrefix))
	for _, r := range ssts {
		sources = append(sources, r.NewPrefixCursor(encodedPrefix))
	}
	return mergeSources(sources, forward)
}

// mergeFull merges the memtable and every SST reader's full key
// range, used by Scan.
func mergeFull(mem memSource, ssts sstSources, forward bool) []base.Record {
	sources := make([]base.Cursor, 0, len(ssts)+1)
	sources = append(sources, mem.Cursor(nil, nil, forward))
	for _, r := range ssts {
		sources = append(sources, r.NewScanCursor(nil, nil, forward))
	}
	return mergeSources(sources, forward)
}

// mergeItem is one live cursor tracked by the merge heap, ordered by
// its current key; sourceIdx breaks ties in favor of the newer
// source (index 0 is always the memtable, the newest possible
// source, followed by SSTs in the stripe's newest-first order).
type mergeItem struct {
	cur       base.Cursor
	sourceIdx int
}

type mergeHeap struct {
	items   []*mergeItem
	forward bool
}

func (h mergeHeap) Len() int { return len(h.items) }
func (h mergeHeap) Less(i, j int) bool {
	ki := h.items[i].cur.Peek().Key.Encode()
	kj := h.items[j].cur.Peek().Key.Encode()
	cmp := compareBytes(ki, kj)
	if cmp == 0 {
		return h.items[i].sourceIdx < h.items[j].sourceIdx
	}
	if h.forward {
		return cmp < 0
	}
	return cmp > 0
}
func (h mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// mergeSources drives a k-way merge across cursors already positioned
// at the range of interest, deduping to the newest version of each
// key and dropping tombstones, mirroring internal/compaction.Merge's
// heap shape but returning an in-memory slice instead of writing an
// SST.
func mergeSources(sources []base.Cursor, forward bool) []base.Record {
	h := &mergeHeap{forward: forward}
	heap.Init(h)
	for i, c := range sources {
		if c.Valid() {
			heap.Push(h, &mergeItem{cur: c, sourceIdx: i})
		}
	}
	var out []base.Record
	for h.Len() > 0 {
		top := h.items[0]
		rec := top.cur.Peek()
		key := rec.Key.Encode()

		// Drain and discard every other source's entry for the same
		// key; the lowest sourceIdx (newest) already won via Less.
		for h.Len() > 0 && compareBytes(h.items[0].cur.Peek().Key.Encode(), key) == 0 {
			it := heap.Pop(h).(*mergeItem)
			it.cur.Next()
			if it.cur.Valid() {
				heap.Push(h, it)
			}
		}
		if !rec.IsTombstone() {
			out = append(out, rec)
		}
	}
	return out
}
