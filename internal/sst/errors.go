package sst

import (
	"github.com/keystonedb/keystone/internal/base"
	"github.com/keystonedb/keystone/internal/keyerr"
)

func errSSTCorrupt(format string, args ...interface{}) error {
	return keyerr.Corruptionf("sst: "+format, args...)
}

func errSSTChecksum(format string, args ...interface{}) error {
	return keyerr.ChecksumMismatchf("sst: "+format, args...)
}

func crc32cOf(b []byte) uint32 { return base.CRC32C(b) }
