// Package memtable implements the in-memory ordered map of recent
// writes for one stripe. Grounded on
// PriyanshuSharma23-FlashLog/memtable/skip_list.go's ordered-container
// shape, adapted to a sorted slice with binary-searched insertion:
// the engine's single RW lock already serializes memtable mutation,
// so a lock-free skip list buys nothing here.
package memtable

import (
	"bytes"
	"sort"

	"github.com/keystonedb/keystone/internal/base"
)

// entry pairs an encoded key with its latest record.
type entry struct {
	encKey []byte
	rec    base.Record
}

// Memtable is an ordered map from encoded key to the latest Record
// for that key. A newer Put/Delete overwrites the in-memory entry
// while byte accounting reflects only the current (latest) value.
type Memtable struct {
	entries []entry
	bytes   int
}

// New returns an empty Memtable.
func New() *Memtable {
	return &Memtable{}
}

func (m *Memtable) search(encKey []byte) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].encKey, encKey) >= 0
	})
	if i < len(m.entries) && bytes.Equal(m.entries[i].encKey, encKey) {
		return i, true
	}
	return i, false
}

// Put inserts or overwrites the record for rec.Key, returning the
// byte-size delta applied to Bytes() (negative if an existing larger
// record was replaced by a smaller one, e.g. a tombstone).
func (m *Memtable) Put(rec base.Record) int {
	encKey := rec.Key.Encode()
	newSize := EstimateRecordSize(encKey, rec)
	idx, found := m.search(encKey)
	if found {
		oldSize := EstimateRecordSize(m.entries[idx].encKey, m.entries[idx].rec)
		m.entries[idx].rec = rec
		delta := newSize - oldSize
		m.bytes += delta
		return delta
	}
	m.entries = append(m.entries, entry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = entry{encKey: encKey, rec: rec}
	m.bytes += newSize
	return newSize
}

// Get returns the record stored for the given encoded key.
func (m *Memtable) Get(encKey []byte) (base.Record, bool) {
	idx, found := m.search(encKey)
	if !found {
		return base.Record{}, false
	}
	return m.entries[idx].rec, true
}

// Len returns the number of distinct keys held.
func (m *Memtable) Len() int { return len(m.entries) }

// Bytes returns the running estimate of in-memory size used for the
// memtable_bytes accounting that triggers a flush.
func (m *Memtable) Bytes() int { return m.bytes }

// EstimateRecordSize implements estimate_record_size:
// key length plus the record's value size (0 for a tombstone) plus
// per-attribute-name lengths (already included in Value.EstimateSize
// for nested Map attributes; top-level attribute names are summed
// here).
func EstimateRecordSize(encKey []byte, rec base.Record) int {
	size := len(encKey)
	if rec.Value != nil {
		for name, v := range rec.Value {
			size += len(name) + v.EstimateSize()
		}
	}
	return size
}

// Cursor returns a base.Cursor over [start, end] (nil bounds mean
// unbounded), ascending or descending, implementing the same narrow
// iterator interface internal/sst.Cursor exposes.
func (m *Memtable) Cursor(start, end []byte, forward bool) base.Cursor {
	lo, hi := 0, len(m.entries)
	if start != nil {
		lo = sort.Search(len(m.entries), func(i int) bool {
			return bytes.Compare(m.entries[i].encKey, start) >= 0
		})
	}
	if end != nil {
		hi = sort.Search(len(m.entries), func(i int) bool {
			return bytes.Compare(m.entries[i].encKey, end) > 0
		})
	}
	if lo > hi {
		lo = hi
	}
	window := m.entries[lo:hi]
	return &memCursor{entries: window, forward: forward, pos: startPos(forward, len(window))}
}

// PrefixCursor returns a cursor over all keys with the given encoded
// prefix, ascending.
func (m *Memtable) PrefixCursor(prefix []byte) base.Cursor {
	lo := sort.Search(len(m.entries), func(i int) bool {
		return bytes.Compare(m.entries[i].encKey, prefix) >= 0
	})
	hi := lo
	for hi < len(m.entries) && bytes.HasPrefix(m.entries[hi].encKey, prefix) {
		hi++
	}
	window := m.entries[lo:hi]
	return &memCursor{entries: window, forward: true, pos: 0}
}

func startPos(forward bool, n int) int {
	if forward {
		return 0
	}
	return n - 1
}

type memCursor struct {
	entries []entry
	forward bool
	pos     int
}

func (c *memCursor) Valid() bool { return c.pos >= 0 && c.pos < len(c.entries) }
func (c *memCursor) Peek() base.Record {
	return c.entries[c.pos].rec
}
func (c *memCursor) Next() {
	if c.forward {
		c.pos++
	} else {
		c.pos--
	}
}
func (c *memCursor) Close() error { return nil }

// Snapshot returns an immutable copy of all (encodedKey, Record)
// pairs, used by flush (which must iterate without racing concurrent
// writers) and by compaction-adjacent read paths that want a stable
// view.
func (m *Memtable) Snapshot() []base.Record {
	out := make([]base.Record, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.rec
	}
	return out
}
