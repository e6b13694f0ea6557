package base

import "hash/crc32"

// crc32cTable is the Castagnoli polynomial table used throughout the
// engine for WAL frame checksums and SST footers.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the Castagnoli CRC32 checksum of b.
func CRC32C(b []byte) uint32 {
	return crc32.Checksum(b, crc32cTable)
}
