// Package sst implements the immutable sorted-string table format:
// header, data blocks with per-block bloom filters and prefix
// compression, a block index, and a footer with section offsets and a
// CRC. Grounded directly on pebble's sstable/table.go (footer/magic/
// block-handle layout and two-level index discussion) and
// sstable/test_fixtures.go (fixture/test style), adapted from
// pebble's InternalKey-based format to KeystoneDB's base.Record.
package sst

import "encoding/binary"

// Magic identifies an SST file: big-endian 0x4B535354 ("KSST"),
// unlike the little-endian integers used everywhere else in the
// format.
const Magic uint32 = 0x4B535354

// Version is this implementation's pinned SST format version; the
// exact on-disk layout is this repo's own choice, with version 1
// treated as canonical.
const Version uint32 = 1

const headerLen = 4 + 4 + 4 + 4 // magic | version | record_count | reserved

func putHeader(buf []byte, recordCount uint32) {
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint32(buf[8:12], recordCount)
	// buf[12:16] reserved, left zero.
}

// blockHandle locates a section of the file.
type blockHandle struct {
	Offset uint64
	Length uint64
}

func (h blockHandle) encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, h.Offset)
	buf = binary.LittleEndian.AppendUint64(buf, h.Length)
	return buf
}

func decodeBlockHandle(buf []byte) (blockHandle, []byte) {
	off := binary.LittleEndian.Uint64(buf[0:8])
	l := binary.LittleEndian.Uint64(buf[8:16])
	return blockHandle{Offset: off, Length: l}, buf[16:]
}

const blockHandleEncodedLen = 16

// footer is the fixed-size trailer of an SST file: offsets to the
// block index and the per-block bloom-filter index, followed by a
// CRC32C over everything that precedes it.
type footer struct {
	indexHandle blockHandle
	bloomHandle blockHandle
}

const footerBodyLen = 2 * blockHandleEncodedLen
const footerLen = footerBodyLen + 4 // + crc32c

func (f footer) encode() []byte {
	buf := make([]byte, 0, footerLen)
	buf = f.indexHandle.encode(buf)
	buf = f.bloomHandle.encode(buf)
	crc := crc32cOf(buf)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != footerLen {
		return footer{}, errSSTCorrupt("footer wrong length")
	}
	body := buf[:footerBodyLen]
	wantCRC := binary.LittleEndian.Uint32(buf[footerBodyLen:])
	if crc32cOf(body) != wantCRC {
		return footer{}, errSSTChecksum("footer checksum mismatch")
	}
	ih, rest := decodeBlockHandle(body)
	bh, _ := decodeBlockHandle(rest)
	return footer{indexHandle: ih, bloomHandle: bh}, nil
}

// indexEntry maps a block's smallest key to its location and its
// compression codec tag.
type indexEntry struct {
	firstKey []byte
	handle   blockHandle
	codec    CompressionKind
}
