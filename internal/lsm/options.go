package lsm

import (
	"time"

	"github.com/keystonedb/keystone/internal/bloom"
	"github.com/keystonedb/keystone/internal/klog"
	"github.com/keystonedb/keystone/internal/sst"
)

// Options configures an Engine. Every field corresponds directly to a
//  configuration key.
type Options struct {
	MaxMemtableRecords       int
	MaxMemtableSizeBytes     int
	SSTThreshold             int
	CompactionCheckInterval  time.Duration
	MaxConcurrentCompactions int
	Compression              sst.Compression
	BloomBitsPerKey          int
	// CompactionBytesPerSecond paces background compaction I/O; <= 0
	// means unlimited.
	CompactionBytesPerSecond float64
	Logger                   klog.Logger
}

// DefaultOptions returns documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxMemtableRecords:       10_000,
		MaxMemtableSizeBytes:     4 * 1024 * 1024,
		SSTThreshold:             4,
		CompactionCheckInterval:  5 * time.Second,
		MaxConcurrentCompactions: 4,
		Compression:              sst.NoCompression,
		BloomBitsPerKey:          bloom.DefaultBitsPerKey,
		Logger:                   klog.NewStderr(),
	}
}

// EnsureDefaults fills zero-valued fields with their documented
// default, mirroring pebble's own
// (*pebble.Options).EnsureDefaults() pattern.
func (o *Options) EnsureDefaults() *Options {
	d := DefaultOptions()
	if o.MaxMemtableRecords <= 0 {
		o.MaxMemtableRecords = d.MaxMemtableRecords
	}
	if o.MaxMemtableSizeBytes <= 0 {
		o.MaxMemtableSizeBytes = d.MaxMemtableSizeBytes
	}
	if o.SSTThreshold <= 0 {
		o.SSTThreshold = d.SSTThreshold
	}
	if o.CompactionCheckInterval <= 0 {
		o.CompactionCheckInterval = d.CompactionCheckInterval
	}
	if o.MaxConcurrentCompactions <= 0 {
		o.MaxConcurrentCompactions = d.MaxConcurrentCompactions
	}
	if o.BloomBitsPerKey <= 0 {
		o.BloomBitsPerKey = d.BloomBitsPerKey
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

func (o Options) sstOptions() sst.Options {
	return sst.Options{
		BlockSize:       sst.DefaultBlockSize,
		RestartInterval: sst.DefaultRestartInterval,
		BloomBitsPerKey: o.BloomBitsPerKey,
		Compression:     o.Compression,
	}
}
