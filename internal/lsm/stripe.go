// Package lsm implements the 256-stripe LSM engine described in
// : write path, read path, flush, and crash recovery.
// Grounded on other_examples/8e0fea9d_guycipher-k4__k4.go for the
// single-file engine Open/recovery shape and
// other_examples/293f4f18_aalhour-rockyardkv__internal-flush-job.go
// for flush-as-a-job separation.
package lsm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/keystonedb/keystone/internal/memtable"
	"github.com/keystonedb/keystone/internal/sst"
)

// sstEntry pairs a reader with its on-disk id/path so compaction can
// replace and delete by id.
type sstEntry struct {
	id     uint64
	path   string
	reader *sst.Reader
}

// stripe is one of the 256 independent mini-LSMs selected by
// base.StripeOf(pk). All fields are guarded by the owning Engine's
// single RW lock.
type stripe struct {
	id  int
	mem *memtable.Memtable
	// ssts is kept newest-first.
	ssts []*sstEntry
}

func newStripe(id int) *stripe {
	return &stripe{id: id, mem: memtable.New()}
}

func sstFileName(stripeID int, sstID uint64) string {
	return fmt.Sprintf("%03d-%d.sst", stripeID, sstID)
}

// parseSSTFileName reverses sstFileName, used during directory scan
// at recovery.
func parseSSTFileName(name string) (stripeID int, sstID uint64, ok bool) {
	var s int
	var id uint64
	n, err := fmt.Sscanf(name, "%03d-%d.sst", &s, &id)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	// Round-trip check: reject names Sscanf parsed loosely (e.g. with
	// extra trailing garbage after the id that happens to still match
	// the "%d.sst" suffix it was given).
	if sstFileName(s, id) != name {
		return 0, 0, false
	}
	return s, id, true
}

func sstPath(dir string, stripeID int, sstID uint64) string {
	return filepath.Join(dir, sstFileName(stripeID, sstID))
}

// insertNewest inserts a newly-created reader at the head of the
// list.
func (s *stripe) insertNewest(e *sstEntry) {
	s.ssts = append(s.ssts, nil)
	copy(s.ssts[1:], s.ssts)
	s.ssts[0] = e
}

// removeByID deletes the stripe's reference to an SST (after
// compaction swaps it out), without closing it (caller does that once
// it's sure no reader holds a reference during a concurrent read).
func (s *stripe) removeByID(ids map[uint64]bool) []*sstEntry {
	kept := s.ssts[:0]
	var removed []*sstEntry
	for _, e := range s.ssts {
		if ids[e.id] {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	s.ssts = kept
	return removed
}

// closeAll closes every SST reader in the stripe; used on Engine
// Close.
func (s *stripe) closeAll() error {
	var firstErr error
	for _, e := range s.ssts {
		if err := e.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// maxSSTID reports the highest sst_id present in the stripe, or 0 if
// none.
func (s *stripe) maxSSTID() uint64 {
	var max uint64
	for _, e := range s.ssts {
		if e.id > max {
			max = e.id
		}
	}
	return max
}

// removeFiles physically deletes the SST files for the given entries;
// called by compaction only after the replacement SST is durable and
// the stripe's list no longer references them.
func removeFiles(entries []*sstEntry) {
	for _, e := range entries {
		_ = os.Remove(e.path)
	}
}
