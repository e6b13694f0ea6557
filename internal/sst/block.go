package sst

import (
	"bytes"
	"encoding/binary"

	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/bloom"
	"github.com/keystonedb/keystone/internal/keyerr"
	"github.com/keystonedb/keystone/internal/wal"
)

// DefaultBlockSize is the ~4KiB uncompressed target block size for one
// data block before compression.
const DefaultBlockSize = 4 * 1024

// DefaultRestartInterval stores a full key every 16 entries before
// the next entry starts a fresh shared-prefix run.
const DefaultRestartInterval = 16

// blockBuilder accumulates records for one data block, emitting
// prefix-compressed entries and tracking restart points using pebble's
// restart-point / shared-prefix block format.
type blockBuilder struct {
	restartInterval int
	buf             bytes.Buffer
	restarts        []uint32
	nEntries        int
	prevKey         []byte
	firstKey        []byte
	bloomBuilder    *bloom.Builder
}

func newBlockBuilder(restartInterval, bitsPerKey int) *blockBuilder {
	return &blockBuilder{
		restartInterval: restartInterval,
		bloomBuilder:    bloom.NewBuilder(bitsPerKey),
	}
}

func (b *blockBuilder) reset() {
	b.buf.Reset()
	b.restarts = b.restarts[:0]
	b.nEntries = 0
	b.prevKey = nil
	b.firstKey = nil
	b.bloomBuilder.Reset()
}

func (b *blockBuilder) empty() bool { return b.nEntries == 0 }

func (b *blockBuilder) size() int {
	return b.buf.Len() + 4*(len(b.restarts)+1)
}

// add appends one (encodedKey, payload) entry, where payload is the
// record's full wal.EncodeRecord output (seq, key and value, so the
// key is stored again inside the payload), giving a single on-disk
// Value representation shared by the WAL and SSTs.
func (b *blockBuilder) add(encodedKey []byte, rec base.Record) {
	b.bloomBuilder.Add(encodedKey)
	if b.nEntries == 0 {
		b.firstKey = append([]byte(nil), encodedKey...)
	}

	isRestart := b.nEntries%b.restartInterval == 0
	var shared int
	if !isRestart {
		shared = sharedPrefixLen(b.prevKey, encodedKey)
	}
	if isRestart {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
	}
	suffix := encodedKey[shared:]

	payload := wal.EncodeRecord(rec)

	putUvarint(&b.buf, uint64(shared))
	putUvarint(&b.buf, uint64(len(suffix)))
	putUvarint(&b.buf, uint64(len(payload)))
	b.buf.Write(suffix)
	b.buf.Write(payload)

	b.prevKey = append(b.prevKey[:0], encodedKey...)
	b.nEntries++
}

// finish returns the raw (uncompressed, pre-trailer) block bytes, the
// block's bloom filter, and the first key in the block.
func (b *blockBuilder) finish() (raw []byte, filter *bloom.Filter, firstKey []byte) {
	body := append([]byte(nil), b.buf.Bytes()...)
	for _, r := range b.restarts {
		body = binary.LittleEndian.AppendUint32(body, r)
	}
	body = binary.LittleEndian.AppendUint32(body, uint32(len(b.restarts)))
	return body, b.bloomBuilder.Finish(), b.firstKey
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// blockEntry is one decoded (key, record) pair from a data block,
// used by blockIter.
type blockEntry struct {
	key []byte
	rec base.Record
}

// decodeBlockEntries fully decodes a (decompressed) data block's body
// into an ordered slice of entries. Blocks are small (~4KiB) so
// whole-block decode is simpler than true restart-aware binary search
// while preserving the on-disk restart-point layout for forward
// compatibility with a smarter reader.
func decodeBlockEntries(body []byte) ([]blockEntry, error) {
	if len(body) < 4 {
		return nil, keyerr.Corruptionf("sst block too short to contain restart count")
	}
	numRestarts := binary.LittleEndian.Uint32(body[len(body)-4:])
	trailerLen := 4 + 4*int(numRestarts)
	if trailerLen > len(body) {
		return nil, keyerr.Corruptionf("sst block restart trailer exceeds block size")
	}
	data := body[:len(body)-trailerLen]

	var entries []blockEntry
	var prevKey []byte
	for len(data) > 0 {
		shared, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, keyerr.Corruptionf("sst block: bad shared-prefix varint")
		}
		data = data[n:]
		suffixLen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, keyerr.Corruptionf("sst block: bad suffix-len varint")
		}
		data = data[n:]
		payloadLen, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, keyerr.Corruptionf("sst block: bad payload-len varint")
		}
		data = data[n:]
		if uint64(len(data)) < suffixLen+payloadLen {
			return nil, keyerr.Corruptionf("sst block: truncated entry")
		}
		suffix := data[:suffixLen]
		key := make([]byte, int(shared)+len(suffix))
		copy(key, prevKey[:shared])
		copy(key[shared:], suffix)
		data = data[suffixLen:]

		payload := data[:payloadLen]
		data = data[payloadLen:]

		rec, err := wal.DecodeRecord(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, blockEntry{key: key, rec: rec})
		prevKey = key
	}
	return entries, nil
}
