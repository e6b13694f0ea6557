package sst

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
)

// Compression selects the per-block compression codec: `none` or
// `zstd(level)`. zstd block compression is provided by
// klauspost/compress/zstd rather than a cgo binding — see DESIGN.md
// for why the pure Go implementation was chosen for an embeddable
// library.
type Compression struct {
	Kind  CompressionKind
	Level int // 1..22, meaningful only when Kind == CompressionZstd
}

type CompressionKind uint8

const (
	CompressionNone CompressionKind = iota
	CompressionZstd
)

// NoCompression is the default codec.
var NoCompression = Compression{Kind: CompressionNone}

var (
	sharedEncoder *zstd.Encoder
	sharedDecoder *zstd.Decoder
)

func init() {
	sharedEncoder, _ = zstd.NewWriter(nil)
	sharedDecoder, _ = zstd.NewReader(nil)
}

// compressBlock compresses src per-block.
func compressBlock(c Compression, src []byte) ([]byte, error) {
	switch c.Kind {
	case CompressionNone:
		return src, nil
	case CompressionZstd:
		level := zstd.EncoderLevelFromZstd(c.Level)
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil
	default:
		return src, nil
	}
}

func decompressBlock(kind CompressionKind, src []byte) ([]byte, error) {
	switch kind {
	case CompressionNone:
		return src, nil
	case CompressionZstd:
		return sharedDecoder.DecodeAll(src, nil)
	default:
		return src, nil
	}
}

// byte tag written before each compressed block so the reader knows
// which codec to use without consulting the footer again.
func compressionTag(k CompressionKind) byte { return byte(k) }

func isPlausibleZstdFrame(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0x28, 0xb5, 0x2f, 0xfd})
}
