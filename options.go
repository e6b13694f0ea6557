package keystone

import (
	"time"

	"github.com/keystonedb/keystone/internal/lsm"
	"github.com/keystonedb/keystone/internal/sst"
)

// Compression mirrors internal/sst.Compression at the public API
// boundary.
type Compression = sst.Compression

// NoCompression is default codec.
var NoCompression = sst.NoCompression

// ZstdCompression selects zstd at the given level (1..22).
func ZstdCompression(level int) Compression {
	return sst.Compression{Kind: sst.CompressionZstd, Level: level}
}

// Options configures a DB. A nil *Options (or any zero-valued field
// within one) takes that field's documented default.
type Options struct {
	MaxMemtableRecords       int
	MaxMemtableSizeBytes     int
	SSTThreshold             int
	CompactionCheckInterval  time.Duration
	MaxConcurrentCompactions int
	Compression              Compression
	BloomBitsPerKey          int
	CompactionBytesPerSecond float64
}

func (o *Options) toLSM() lsm.Options {
	if o == nil {
		return lsm.DefaultOptions()
	}
	lo := lsm.Options{
		MaxMemtableRecords:       o.MaxMemtableRecords,
		MaxMemtableSizeBytes:     o.MaxMemtableSizeBytes,
		SSTThreshold:             o.SSTThreshold,
		CompactionCheckInterval:  o.CompactionCheckInterval,
		MaxConcurrentCompactions: o.MaxConcurrentCompactions,
		Compression:              o.Compression,
		BloomBitsPerKey:          o.BloomBitsPerKey,
		CompactionBytesPerSecond: o.CompactionBytesPerSecond,
	}
	lo.EnsureDefaults()
	return lo
}
