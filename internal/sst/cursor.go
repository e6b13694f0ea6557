package sst

import (
	"bytes"

	"github.com/keystonedb/keystone/internal/base"
)

// Cursor iterates an SST's records in ascending (or, reversed,
// descending) encoded-key order over a half-open/closed range,
// implementing base.Cursor
// note and scan_range operation.
type Cursor struct {
	r         *Reader
	entries   []blockEntry
	blockIdx  int
	pos       int
	forward   bool
	start     []byte // inclusive lower bound, nil = unbounded
	end       []byte // inclusive upper bound, nil = unbounded
	prefix    []byte // when set, stop once keys no longer share this prefix
	err       error
}

// NewScanCursor returns a cursor over [start, end] (either bound may
// be nil for unbounded), walking forward or backward.
func (r *Reader) NewScanCursor(start, end []byte, forward bool) *Cursor {
	c := &Cursor{r: r, forward: forward, start: start, end: end}
	c.seekToStart()
	return c
}

// NewPrefixCursor returns a cursor over all keys sharing prefix,
// ascending.4's "also supports prefix-scan."
func (r *Reader) NewPrefixCursor(prefix []byte) *Cursor {
	c := &Cursor{r: r, forward: true, start: prefix, prefix: prefix}
	c.seekToStart()
	return c
}

func (c *Cursor) seekToStart() {
	if len(c.r.index) == 0 {
		c.blockIdx = -1
		return
	}
	if c.forward {
		idx := c.r.blockIndexFor(firstBound(c.start))
		if idx < 0 {
			idx = 0
		}
		c.blockIdx = idx
		c.loadBlock(idx)
		if c.start != nil {
			c.skipForwardTo(c.start)
		}
	} else {
		idx := len(c.r.index) - 1
		if c.end != nil {
			if b := c.r.blockIndexFor(c.end); b >= 0 {
				idx = b
			}
		}
		c.blockIdx = idx
		c.loadBlock(idx)
		c.pos = len(c.entries) - 1
		if c.end != nil {
			c.skipBackwardTo(c.end)
		}
	}
	c.advanceToValid()
}

func firstBound(start []byte) []byte {
	if start == nil {
		return []byte{}
	}
	return start
}

func (c *Cursor) loadBlock(idx int) {
	c.entries = nil
	c.pos = 0
	if idx < 0 || idx >= len(c.r.index) {
		return
	}
	entries, err := c.r.readBlock(idx)
	if err != nil {
		c.err = err
		c.entries = nil
		return
	}
	c.entries = entries
}

func (c *Cursor) skipForwardTo(key []byte) {
	for c.pos < len(c.entries) && bytes.Compare(c.entries[c.pos].key, key) < 0 {
		c.pos++
	}
}

func (c *Cursor) skipBackwardTo(key []byte) {
	for c.pos >= 0 && bytes.Compare(c.entries[c.pos].key, key) > 0 {
		c.pos--
	}
}

// advanceToValid moves pos forward/backward across block boundaries
// until it sits on an in-range entry, or the cursor is exhausted.
func (c *Cursor) advanceToValid() {
	for {
		if c.err != nil {
			c.blockIdx = -1
			return
		}
		if c.forward {
			if c.pos < len(c.entries) {
				if c.inRange(c.entries[c.pos].key) {
					return
				}
				if c.end != nil && bytes.Compare(c.entries[c.pos].key, c.end) > 0 {
					c.blockIdx = -1
					return
				}
				if c.prefix != nil && !bytes.HasPrefix(c.entries[c.pos].key, c.prefix) {
					c.blockIdx = -1
					return
				}
				c.pos++
				continue
			}
			c.blockIdx++
			if c.blockIdx >= len(c.r.index) {
				c.blockIdx = -1
				return
			}
			c.loadBlock(c.blockIdx)
			continue
		}
		// backward
		if c.pos >= 0 {
			if c.inRange(c.entries[c.pos].key) {
				return
			}
			if c.start != nil && bytes.Compare(c.entries[c.pos].key, c.start) < 0 {
				c.blockIdx = -1
				return
			}
			c.pos--
			continue
		}
		c.blockIdx--
		if c.blockIdx < 0 {
			c.blockIdx = -1
			return
		}
		c.loadBlock(c.blockIdx)
		c.pos = len(c.entries) - 1
		continue
	}
}

func (c *Cursor) inRange(key []byte) bool {
	if c.prefix != nil {
		return bytes.HasPrefix(key, c.prefix)
	}
	if c.start != nil && bytes.Compare(key, c.start) < 0 {
		return false
	}
	if c.end != nil && bytes.Compare(key, c.end) > 0 {
		return false
	}
	return true
}

// Valid implements base.Cursor.
func (c *Cursor) Valid() bool { return c.blockIdx >= 0 && c.err == nil }

// Peek implements base.Cursor.
func (c *Cursor) Peek() base.Record {
	return c.entries[c.pos].rec
}

// Next implements base.Cursor.
func (c *Cursor) Next() {
	if c.blockIdx < 0 {
		return
	}
	if c.forward {
		c.pos++
	} else {
		c.pos--
	}
	c.advanceToValid()
}

// Err returns any error encountered while reading blocks during
// iteration.
func (c *Cursor) Err() error { return c.err }

// Close is a no-op: the cursor doesn't own the underlying Reader's
// file handle.
func (c *Cursor) Close() error { return nil }
