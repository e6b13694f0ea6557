package base

import (
	"encoding/binary"

	"github.com/keystonedb/keystone/internal/keyerr"
)

// NumStripes is the number of independent mini-LSMs the keyspace is
// partitioned into.
const NumStripes = 256

// Key is a partition key with an optional sort key.
type Key struct {
	PK []byte
	SK []byte // nil when absent
}

// HasSK reports whether the key carries a sort key.
func (k Key) HasSK() bool { return k.SK != nil }

// Encode produces the canonical ordering encoding:
//
//	len(pk)·u32_le ‖ pk ‖ len(sk)·u32_le ‖ sk_or_empty
//
// Lexicographic order on this byte string is the canonical key order.
func (k Key) Encode() []byte {
	buf := make([]byte, 0, 8+len(k.PK)+len(k.SK))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k.PK)))
	buf = append(buf, k.PK...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k.SK)))
	buf = append(buf, k.SK...)
	return buf
}

// DecodeKey reverses Encode, used by SST/WAL readers that only have
// the encoded byte form on disk.
func DecodeKey(buf []byte) (Key, error) {
	if len(buf) < 4 {
		return Key{}, keyerr.Corruptionf("encoded key too short: %d bytes", len(buf))
	}
	pkLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < pkLen {
		return Key{}, keyerr.Corruptionf("encoded key truncated (pk)")
	}
	pk := buf[:pkLen]
	buf = buf[pkLen:]
	if len(buf) < 4 {
		return Key{}, keyerr.Corruptionf("encoded key truncated (sk len)")
	}
	skLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < skLen {
		return Key{}, keyerr.Corruptionf("encoded key truncated (sk)")
	}
	var sk []byte
	if skLen > 0 {
		sk = buf[:skLen]
	}
	return Key{PK: pk, SK: sk}, nil
}

// Validate enforces : pk is non-empty.
func (k Key) Validate() error {
	if len(k.PK) == 0 {
		return keyerr.InvalidArgumentf("partition key must be non-empty")
	}
	return nil
}

// Stripe computes stripe_id = crc32c(pk) mod NumStripes.
func (k Key) Stripe() uint32 {
	return StripeOf(k.PK)
}

// StripeOf is the standalone stripe-routing function, also used for
// GSI-rewritten keys in internal/index.
func StripeOf(pk []byte) uint32 {
	return CRC32C(pk) % NumStripes
}
