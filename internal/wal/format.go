// Package wal implements the write-ahead log: an append-only frame
// log with group commit and crash recovery, grounded on
// other_examples' Scarage1-FlashDB wal.go and
// PriyanshuSharma23-FlashLog/wal/wal_writer.go for the append+fsync
// shape, adapted to the engine's Record type and CRC32C framing.
package wal

import "encoding/binary"

// Magic and version identify the WAL header:
// magic(4)=0x4B535457 ("KSTW") | version(4)=1 | reserved(8).
const (
	Magic         uint32 = 0x4B535457
	Version       uint32 = 1
	headerLen      = 4 + 4 + 8
	frameHeaderSz  = 8 + 4 // lsn(8) | len(4)
	frameTrailerSz = 4     // crc32c(4)
)

func putHeader(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	// bytes [8:16] reserved, left zero.
}
