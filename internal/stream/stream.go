// Package stream implements the in-memory change-stream ring buffer:
// a fixed-capacity circular slice fed by every successful write, with
// old records silently dropped on overflow. No external dependency is
// used here; hand-rolled ring buffers are the norm for this kind of
// small fixed-capacity structure rather than reaching for a library.
package stream

import (
	"sync"

	"github.com/keystonedb/keystone/internal/base"
)

// DefaultBufferSize is documented default.
const DefaultBufferSize = 1000

// ViewType selects which of a write's before/after images a schema's
// stream configuration asks for.
type ViewType int

const (
	ViewKeysOnly ViewType = iota
	ViewNewImage
	ViewOldImage
	ViewNewAndOldImages
)

// Event is the raw write notification pushed by the engine; Buffer
// projects it down to a StreamRecord using the configured ViewType
// only at read time, so the buffer itself stays view-agnostic.
type Event struct {
	Seq             base.SeqNum
	Key             base.Key
	Old             base.Record
	OldOK           bool
	New             base.Record
	NewOK           bool
	TimestampMillis int64
}

// Record is what ReadStream returns: a single change-stream entry
// projected according to a ViewType.
type Record struct {
	Seq             uint64
	PK, SK          []byte
	TimestampMillis int64
	NewImage        base.Item // nil unless view includes it
	OldImage        base.Item // nil unless view includes it
}

// Buffer is a fixed-size circular buffer of Events, safe for
// concurrent Push/Read.
type Buffer struct {
	mu       sync.Mutex
	cap      int
	entries  []Event
	start    int // index of oldest entry
	count    int
	overflow uint64
}

// NewBuffer returns an empty ring buffer holding at most capacity
// events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{cap: capacity, entries: make([]Event, capacity)}
}

// Push appends ev, overwriting the oldest entry once the buffer is
// full.
func (b *Buffer) Push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.start + b.count) % b.cap
	if b.count == b.cap {
		b.start = (b.start + 1) % b.cap
		b.overflow++
	} else {
		b.count++
	}
	b.entries[idx] = ev
}

// Read returns every retained event with Seq > afterSeq, oldest
// first, projected into Records according to view.
func (b *Buffer) Read(afterSeq uint64, view ViewType) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, b.count)
	for i := 0; i < b.count; i++ {
		ev := b.entries[(b.start+i)%b.cap]
		if uint64(ev.Seq) <= afterSeq {
			continue
		}
		out = append(out, project(ev, view))
	}
	return out
}

// Overflowed reports how many events have been dropped due to buffer
// wraparound since creation, for diagnostics.
func (b *Buffer) Overflowed() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

func project(ev Event, view ViewType) Record {
	r := Record{
		Seq:             uint64(ev.Seq),
		PK:              ev.Key.PK,
		SK:              ev.Key.SK,
		TimestampMillis: ev.TimestampMillis,
	}
	switch view {
	case ViewNewImage:
		if ev.NewOK {
			r.NewImage = ev.New.Value
		}
	case ViewOldImage:
		if ev.OldOK {
			r.OldImage = ev.Old.Value
		}
	case ViewNewAndOldImages:
		if ev.NewOK {
			r.NewImage = ev.New.Value
		}
		if ev.OldOK {
			r.OldImage = ev.Old.Value
		}
	case ViewKeysOnly:
		// keys already populated above; no images attached
	}
	return r
}
