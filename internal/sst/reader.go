package sst

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/bloom"
)

// readableFile is the narrow I/O surface a Reader needs, satisfied by
// either a buffered *os.File wrapper (file_reader.go) or an mmap'd
// region (mmap_unix.go) — literally "memory-maps or
// buffered-reads" as two implementations of one interface.
type readableFile interface {
	ReadAt(buf []byte, off int64) (int, error)
	Size() int64
	Close() error
}

// Reader opens an immutable SST file, eagerly loading the footer,
// block index, and bloom filters into RAM.4.
type Reader struct {
	file        readableFile
	recordCount uint32
	index       []indexEntry
	filters     []*bloom.Filter
	quarantined bool // set by internal/lsm when a checksum error is observed
}

// Open reads and validates the footer/index/bloom sections of the
// SST backed by f.
func Open(f readableFile) (*Reader, error) {
	size := f.Size()
	if size < int64(headerLen+footerLen) {
		return nil, errSSTCorrupt("file too small to be a valid sst (%d bytes)", size)
	}

	hdr := make([]byte, headerLen)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return nil, errSSTCorrupt("read header: %v", err)
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != Magic {
		return nil, errSSTCorrupt("bad magic")
	}
	recordCount := binary.LittleEndian.Uint32(hdr[8:12])

	ftBuf := make([]byte, footerLen)
	if _, err := f.ReadAt(ftBuf, size-int64(footerLen)); err != nil {
		return nil, errSSTCorrupt("read footer: %v", err)
	}
	ft, err := decodeFooter(ftBuf)
	if err != nil {
		return nil, err
	}

	indexBuf := make([]byte, ft.indexHandle.Length)
	if _, err := f.ReadAt(indexBuf, int64(ft.indexHandle.Offset)); err != nil {
		return nil, errSSTCorrupt("read index: %v", err)
	}
	index, err := decodeIndex(indexBuf)
	if err != nil {
		return nil, err
	}

	bloomBuf := make([]byte, ft.bloomHandle.Length)
	if _, err := f.ReadAt(bloomBuf, int64(ft.bloomHandle.Offset)); err != nil {
		return nil, errSSTCorrupt("read bloom section: %v", err)
	}
	filters, err := decodeFilters(bloomBuf)
	if err != nil {
		return nil, err
	}
	if len(filters) != len(index) {
		return nil, errSSTCorrupt("bloom filter count %d does not match block count %d", len(filters), len(index))
	}

	return &Reader{file: f, recordCount: recordCount, index: index, filters: filters}, nil
}

func decodeIndex(buf []byte) ([]indexEntry, error) {
	if len(buf) < 4 {
		return nil, errSSTCorrupt("index section too short")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	entries := make([]indexEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(buf) < 4 {
			return nil, errSSTCorrupt("index entry truncated (key len)")
		}
		klen := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < klen {
			return nil, errSSTCorrupt("index entry truncated (key)")
		}
		key := make([]byte, klen)
		copy(key, buf[:klen])
		buf = buf[klen:]
		if len(buf) < blockHandleEncodedLen+1 {
			return nil, errSSTCorrupt("index entry truncated (handle)")
		}
		h, rest := decodeBlockHandle(buf)
		codec := CompressionKind(rest[0])
		buf = rest[1:]
		entries = append(entries, indexEntry{firstKey: key, handle: h, codec: codec})
	}
	return entries, nil
}

func decodeFilters(buf []byte) ([]*bloom.Filter, error) {
	if len(buf) < 4 {
		return nil, errSSTCorrupt("bloom section too short")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	filters := make([]*bloom.Filter, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(buf) < 4 {
			return nil, errSSTCorrupt("bloom entry truncated (len)")
		}
		l := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if uint32(len(buf)) < l {
			return nil, errSSTCorrupt("bloom entry truncated (data)")
		}
		f, err := bloom.Decode(buf[:l])
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
		buf = buf[l:]
	}
	return filters, nil
}

// RecordCount returns the number of records written to this table.
func (r *Reader) RecordCount() uint32 { return r.recordCount }

// Quarantined reports whether this reader has been marked unusable
// after a checksum failure.
func (r *Reader) Quarantined() bool { return r.quarantined }

// Quarantine marks this reader unusable for the remainder of the
// process lifetime.
func (r *Reader) Quarantine() { r.quarantined = true }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.file.Close() }

// blockIndexFor returns the index of the last block whose first key
// is <= encodedKey, or -1 if encodedKey precedes every block.
func (r *Reader) blockIndexFor(encodedKey []byte) int {
	i := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].firstKey, encodedKey) > 0
	})
	return i - 1
}

func (r *Reader) readBlock(idx int) ([]blockEntry, error) {
	e := r.index[idx]
	raw := make([]byte, e.handle.Length)
	if _, err := r.file.ReadAt(raw, int64(e.handle.Offset)); err != nil {
		return nil, errSSTCorrupt("read block %d: %v", idx, err)
	}
	codec := CompressionKind(raw[0])
	compressed := raw[1:]
	decompressed, err := decompressBlock(codec, compressed)
	if err != nil {
		r.Quarantine()
		return nil, errSSTChecksum("decompress block %d: %v", idx, err)
	}
	entries, err := decodeBlockEntries(decompressed)
	if err != nil {
		r.Quarantine()
		return nil, err
	}
	return entries, nil
}

// Get looks up encodedKey, honoring the block-level bloom filter gate
// described below Returns (record, true, nil) on a hit,
// (zero, false, nil) when absent, and a non-nil error only on I/O or
// corruption.
func (r *Reader) Get(encodedKey []byte) (base.Record, bool, error) {
	if r.quarantined {
		return base.Record{}, false, errSSTCorrupt("reader is quarantined")
	}
	idx := r.blockIndexFor(encodedKey)
	if idx < 0 {
		return base.Record{}, false, nil
	}
	if !r.filters[idx].Contains(encodedKey) {
		return base.Record{}, false, nil
	}
	entries, err := r.readBlock(idx)
	if err != nil {
		return base.Record{}, false, err
	}
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].key, encodedKey) >= 0
	})
	if i < len(entries) && bytes.Equal(entries[i].key, encodedKey) {
		return entries[i].rec, true, nil
	}
	return base.Record{}, false, nil
}

// NumBlocks returns the number of data blocks, used by tests and by
// compaction progress accounting.
func (r *Reader) NumBlocks() int { return len(r.index) }
