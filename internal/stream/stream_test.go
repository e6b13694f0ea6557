package stream

import (
	"testing"

	"github.com/keystonedb/keystone/internal/base"
)

func ev(seq uint64, pk string) Event {
	return Event{
		Seq:   base.SeqNum(seq),
		Key:   base.Key{PK: []byte(pk)},
		New:   base.Record{Key: base.Key{PK: []byte(pk)}, Value: base.Item{"v": base.S(pk)}, Seq: base.SeqNum(seq)},
		NewOK: true,
	}
}

func TestReadReturnsOnlyAfterSeq(t *testing.T) {
	b := NewBuffer(10)
	for i := uint64(1); i <= 5; i++ {
		b.Push(ev(i, "k"))
	}
	recs := b.Read(2, ViewNewImage)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Seq != 3 {
		t.Fatalf("first record seq = %d, want 3", recs[0].Seq)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := uint64(1); i <= 5; i++ {
		b.Push(ev(i, "k"))
	}
	recs := b.Read(0, ViewKeysOnly)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Seq != 3 {
		t.Fatalf("oldest surviving seq = %d, want 3", recs[0].Seq)
	}
	if b.Overflowed() != 2 {
		t.Fatalf("overflowed = %d, want 2", b.Overflowed())
	}
}

func TestViewProjection(t *testing.T) {
	b := NewBuffer(10)
	b.Push(ev(1, "k"))

	keysOnly := b.Read(0, ViewKeysOnly)[0]
	if keysOnly.NewImage != nil {
		t.Fatal("keys-only view should omit new image")
	}

	newImage := b.Read(0, ViewNewImage)[0]
	if newImage.NewImage == nil {
		t.Fatal("new-image view should include new image")
	}
}
