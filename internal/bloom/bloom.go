// Package bloom implements the per-block probabilistic membership
// filter used by internal/sst, mirroring pebble's own standalone
// "github.com/cockroachdb/pebble/bloom" sub-package — a bloom filter
// has no dependency on the rest of the tree and is built once per
// block at write time, loaded once at open time.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/keystonedb/keystone/internal/keyerr"
)

// DefaultBitsPerKey is the default bits-per-key used when a Builder
// is constructed with a non-positive value, yielding roughly a 1%
// false-positive rate.
const DefaultBitsPerKey = 10

// Filter is an immutable, serialized bloom filter for one data block.
type Filter struct {
	bits      []byte
	numBits   uint32
	numHashes uint32
}

// numHashesFor computes k = round(bits_per_key * ln2), clamped to
// [1,30].
func numHashesFor(bitsPerKey int) uint32 {
	k := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint32(k)
}

// Builder accumulates keys for one block and produces a Filter.
type Builder struct {
	bitsPerKey int
	keys       [][]byte
}

// NewBuilder creates a Builder targeting the given bits-per-key.
func NewBuilder(bitsPerKey int) *Builder {
	if bitsPerKey <= 0 {
		bitsPerKey = DefaultBitsPerKey
	}
	return &Builder{bitsPerKey: bitsPerKey}
}

// Add records a key to be included in the filter.
func (b *Builder) Add(key []byte) {
	// Copy: the caller's buffer may be reused (e.g. a block builder's
	// scratch buffer) before Finish is called.
	k := make([]byte, len(key))
	copy(k, key)
	b.keys = append(b.keys, k)
}

// Reset clears the builder for reuse across blocks.
func (b *Builder) Reset() {
	b.keys = b.keys[:0]
}

// Finish builds the Filter bitset for all keys added since the last
// Reset.
func (b *Builder) Finish() *Filter {
	n := len(b.keys)
	numHashes := numHashesFor(b.bitsPerKey)
	numBits := uint32(n * b.bitsPerKey)
	if numBits < 64 {
		numBits = 64
	}
	// Round up to a byte boundary.
	numBits = (numBits + 7) &^ 7

	f := &Filter{
		bits:      make([]byte, numBits/8),
		numBits:   numBits,
		numHashes: numHashes,
	}
	for _, k := range b.keys {
		h1, h2 := seedHashes(k)
		for i := uint32(0); i < numHashes; i++ {
			bitPos := (h1 + i*h2) % f.numBits
			f.bits[bitPos/8] |= 1 << (bitPos % 8)
		}
	}
	return f
}

// seedHashes computes the two seed hashes used for double hashing:
// FNV-1a as the primary hash and cespare/xxhash as the secondary.
func seedHashes(key []byte) (h1, h2 uint32) {
	h1 = fnv1a(key)
	h2 = uint32(xxhash.Sum64(key))
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func fnv1a(data []byte) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, b := range data {
		h ^= uint32(b)
		h *= prime32
	}
	return h
}

// Contains reports whether key may be present: false means key is
// definitely not in the block; true means key may be in the block. No
// false negatives.
func (f *Filter) Contains(key []byte) bool {
	if f == nil || len(f.bits) == 0 {
		return true // no filter => must check the block
	}
	h1, h2 := seedHashes(key)
	for i := uint32(0); i < f.numHashes; i++ {
		bitPos := (h1 + i*h2) % f.numBits
		if f.bits[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter as
// [num_bits u32_le][num_hashes u32_le][bitset bytes].
func (f *Filter) Encode() []byte {
	buf := make([]byte, 8+len(f.bits))
	binary.LittleEndian.PutUint32(buf[0:4], f.numBits)
	binary.LittleEndian.PutUint32(buf[4:8], f.numHashes)
	copy(buf[8:], f.bits)
	return buf
}

// Decode parses the wire format written by Encode.
func Decode(buf []byte) (*Filter, error) {
	if len(buf) < 8 {
		return nil, keyerr.Corruptionf("bloom filter buffer too short: %d bytes", len(buf))
	}
	numBits := binary.LittleEndian.Uint32(buf[0:4])
	numHashes := binary.LittleEndian.Uint32(buf[4:8])
	want := int((numBits + 7) / 8)
	rest := buf[8:]
	if len(rest) < want {
		return nil, keyerr.Corruptionf("bloom filter bitset truncated: have %d want %d", len(rest), want)
	}
	bits := make([]byte, want)
	copy(bits, rest[:want])
	return &Filter{bits: bits, numBits: numBits, numHashes: numHashes}, nil
}

// EncodedLen returns the serialized size of f, used by block builders
// to size their trailer offsets ahead of time.
func (f *Filter) EncodedLen() int {
	return 8 + len(f.bits)
}
