package sst

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/bloom"
)

// Options configures a Writer/Reader pair. Fields mirror // recognized configuration keys.
type Options struct {
	BlockSize       int
	RestartInterval int
	BloomBitsPerKey int
	Compression     Compression
}

// DefaultOptions returns documented defaults.
func DefaultOptions() Options {
	return Options{
		BlockSize:       DefaultBlockSize,
		RestartInterval: DefaultRestartInterval,
		BloomBitsPerKey: bloom.DefaultBitsPerKey,
		Compression:     NoCompression,
	}
}

func (o Options) withDefaults() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.RestartInterval <= 0 {
		o.RestartInterval = DefaultRestartInterval
	}
	if o.BloomBitsPerKey <= 0 {
		o.BloomBitsPerKey = bloom.DefaultBitsPerKey
	}
	return o
}

// Writer accepts records in strictly ascending encoded-key order
// and emits a single immutable SST
// file. Records within an SST are never duplicated — Add returns a
// Corruption error if callers violate ordering, since that indicates
// an engine bug rather than a recoverable condition.
type Writer struct {
	opts Options
	buf  bytes.Buffer // accumulates the whole file in memory, then is flushed atomically

	cur         *blockBuilder
	lastKey     []byte
	haveLastKey bool
	recordCount uint32

	indexEntries []indexEntry
	filters      []*bloom.Filter
	dataOffset   uint64
}

// NewWriter creates a Writer targeting the given options.
func NewWriter(opts Options) *Writer {
	opts = opts.withDefaults()
	w := &Writer{opts: opts}
	w.cur = newBlockBuilder(opts.RestartInterval, opts.BloomBitsPerKey)
	// Reserve space for the file header; actual header is patched in
	// at Finish once record_count is known.
	w.buf.Write(make([]byte, headerLen))
	w.dataOffset = headerLen
	return w
}

// Add appends one record. encodedKey must be base.Key.Encode() and
// must be strictly greater than the previous key added.
func (w *Writer) Add(encodedKey []byte, rec base.Record) error {
	if w.haveLastKey && bytes.Compare(encodedKey, w.lastKey) <= 0 {
		return errSSTCorrupt("writer: keys must be added in strictly ascending order")
	}
	w.cur.add(encodedKey, rec)
	w.lastKey = append(w.lastKey[:0], encodedKey...)
	w.haveLastKey = true
	w.recordCount++

	if w.cur.size() >= w.opts.BlockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if w.cur.empty() {
		return nil
	}
	raw, filter, firstKey := w.cur.finish()
	compressed, err := compressBlock(w.opts.Compression, raw)
	if err != nil {
		return err
	}

	handle := blockHandle{Offset: w.dataOffset, Length: uint64(len(compressed)) + 1}
	w.buf.WriteByte(compressionTag(w.opts.Compression.Kind))
	w.buf.Write(compressed)
	w.dataOffset += handle.Length

	w.indexEntries = append(w.indexEntries, indexEntry{
		firstKey: firstKey,
		handle:   handle,
		codec:    w.opts.Compression.Kind,
	})
	w.filters = append(w.filters, filter)

	w.cur.reset()
	return nil
}

// Finish writes the index block, bloom-filter section, and footer,
// returning the complete file bytes. The caller is responsible for
// the atomic write-to-temp/fsync/rename dance (internal/lsm.flush
// does this.6).
func (w *Writer) Finish() ([]byte, error) {
	if err := w.flushBlock(); err != nil {
		return nil, err
	}

	putU32 := func(buf *bytes.Buffer, v uint32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf.Write(tmp[:])
	}

	indexOffset := w.dataOffset
	var indexBuf bytes.Buffer
	putU32(&indexBuf, uint32(len(w.indexEntries)))
	for _, e := range w.indexEntries {
		putU32(&indexBuf, uint32(len(e.firstKey)))
		indexBuf.Write(e.firstKey)
		hbuf := e.handle.encode(nil)
		indexBuf.Write(hbuf)
		indexBuf.WriteByte(byte(e.codec))
	}
	w.buf.Write(indexBuf.Bytes())
	indexHandle := blockHandle{Offset: indexOffset, Length: uint64(indexBuf.Len())}

	bloomOffset := w.dataOffset + uint64(indexBuf.Len())
	var bloomBuf bytes.Buffer
	putU32(&bloomBuf, uint32(len(w.filters)))
	for _, f := range w.filters {
		enc := f.Encode()
		putU32(&bloomBuf, uint32(len(enc)))
		bloomBuf.Write(enc)
	}
	w.buf.Write(bloomBuf.Bytes())
	bloomHandle := blockHandle{Offset: bloomOffset, Length: uint64(bloomBuf.Len())}

	ft := footer{indexHandle: indexHandle, bloomHandle: bloomHandle}
	w.buf.Write(ft.encode())

	out := w.buf.Bytes()
	hdr := make([]byte, headerLen)
	putHeader(hdr, w.recordCount)
	copy(out[:headerLen], hdr)

	return out, nil
}

// WriteFile writes the finished SST atomically: write-to-temp, fsync,
// rename.
func WriteFile(path string, opts Options, records []base.Record) error {
	w := NewWriter(opts)
	for _, r := range records {
		if err := w.Add(r.Key.Encode(), r); err != nil {
			return err
		}
	}
	data, err := w.Finish()
	if err != nil {
		return err
	}
	return WriteRaw(path, data)
}

// WriteRaw atomically writes an already-serialized SST file (the
// output of (*Writer).Finish) to path via write-to-temp/fsync/rename,
// letting callers that build the bytes themselves — such as
// internal/compaction — reuse the same durability dance as WriteFile.
func WriteRaw(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errSSTCorrupt("create temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errSSTCorrupt("write temp file: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errSSTCorrupt("fsync temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errSSTCorrupt("close temp file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errSSTCorrupt("rename temp file: %v", err)
	}
	return nil
}
