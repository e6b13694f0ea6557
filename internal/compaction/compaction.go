// Package compaction implements the k-way merge compactor described
// in : merge every SST in a stripe's compaction set into
// one new sorted SST, dropping tombstones once no older data remains
// beneath them to shadow. Grounded on
// other_examples/293f4f18_aalhour-rockyardkv__internal-table-builder.go's
// merge-and-rebuild shape, adapted from its single-level compactor to
// operate over internal/sst.Reader cursors.
package compaction

import (
	"bytes"
	"container/heap"
	"context"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/sst"
	"github.com/keystonedb/keystone/internal/wal"
)

// Result summarizes one compaction run, feeding the engine's atomic
// CompactionStats counters.
type Result struct {
	RecordsWritten    int
	TombstonesDropped int
	BytesRead         uint64
	BytesWritten      uint64
}

// Merge reads every record from readers (ordered newest-first, as the
// engine keeps its stripe's SST list), keeping only the newest
// surviving version of each key, and writes the result to outPath as
// a new SST. When includesOldest is true — the compaction set reaches
// the bottom of the stripe's SST list — tombstones are dropped
// instead of carried forward, since no older record remains for them
// to shadow. limiter paces the cumulative read+write bytes; pass nil
// for unlimited.
func Merge(ctx context.Context, readers []*sst.Reader, includesOldest bool, opts sst.Options, outPath string, limiter *RateLimiter) (Result, error) {
	var res Result
	if len(readers) == 0 {
		return res, nil
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, r := range readers {
		pushNext(h, r.NewScanCursor(nil, nil, true), i)
	}

	w := sst.NewWriter(opts)

	for h.Len() > 0 {
		top := heap.Pop(h).(*mergeItem)
		key := top.key
		rec := top.rec
		n := len(wal.EncodeRecord(rec))
		res.BytesRead += uint64(n)
		if err := limiter.WaitN(ctx, n); err != nil {
			return res, err
		}

		// Drain and discard any older duplicates of the same key from
		// other sources; the heap guarantees top is the newest (lowest
		// sourceIdx) among equal keys because mergeHeap.Less breaks ties
		// that way, but other sources may still hold the same key queued.
		for h.Len() > 0 && bytes.Equal((*h)[0].key, key) {
			dup := heap.Pop(h).(*mergeItem)
			res.BytesRead += uint64(len(wal.EncodeRecord(dup.rec)))
			advanceAndPush(h, dup)
		}
		advanceAndPush(h, top)

		if rec.IsTombstone() && includesOldest {
			res.TombstonesDropped++
			continue
		}
		if err := w.Add(key, rec); err != nil {
			return res, err
		}
		res.RecordsWritten++
	}

	if res.RecordsWritten == 0 {
		return res, nil
	}
	data, err := w.Finish()
	if err != nil {
		return res, err
	}
	res.BytesWritten = uint64(len(data))
	if err := limiter.WaitN(ctx, len(data)); err != nil {
		return res, err
	}
	if err := writeAtomic(outPath, data); err != nil {
		return res, err
	}
	return res, nil
}

// mergeItem is one candidate key popped from a single reader's cursor.
type mergeItem struct {
	key       []byte
	rec       base.Record
	sourceIdx int // lower index = newer source, per the engine's newest-first SST order
	cursor    base.Cursor
}

type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].key, h[j].key)
	if c != 0 {
		return c < 0
	}
	return h[i].sourceIdx < h[j].sourceIdx
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func pushNext(h *mergeHeap, c base.Cursor, sourceIdx int) bool {
	if !c.Valid() {
		c.Close()
		return false
	}
	rec := c.Peek()
	heap.Push(h, &mergeItem{key: rec.Key.Encode(), rec: rec, sourceIdx: sourceIdx, cursor: c})
	return true
}

func advanceAndPush(h *mergeHeap, it *mergeItem) {
	it.cursor.Next()
	if it.cursor.Valid() {
		rec := it.cursor.Peek()
		it.key = rec.Key.Encode()
		it.rec = rec
		heap.Push(h, it)
	} else {
		it.cursor.Close()
	}
}

func writeAtomic(path string, data []byte) error {
	return sst.WriteRaw(path, data)
}
