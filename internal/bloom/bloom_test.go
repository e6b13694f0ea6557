package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	b := NewBuilder(DefaultBitsPerKey)
	var keys [][]byte
	for i := 0; i < 2000; i++ {
		k := []byte(fmt.Sprintf("key-%08d", i))
		keys = append(keys, k)
		b.Add(k)
	}
	f := b.Finish()
	for _, k := range keys {
		require.True(t, f.Contains(k), "false negative for %q", k)
	}
}

func TestFalsePositiveRateIsReasonable(t *testing.T) {
	b := NewBuilder(DefaultBitsPerKey)
	for i := 0; i < 10000; i++ {
		b.Add([]byte(fmt.Sprintf("present-%d", i)))
	}
	f := b.Finish()

	fp := 0
	trials := 10000
	for i := 0; i < trials; i++ {
		k := []byte(fmt.Sprintf("absent-%d", i))
		if f.Contains(k) {
			fp++
		}
	}
	rate := float64(fp) / float64(trials)
	require.Less(t, rate, 0.05, "false positive rate too high: %f", rate)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBuilder(10)
	b.Add([]byte("alpha"))
	b.Add([]byte("beta"))
	f := b.Finish()

	buf := f.Encode()
	require.Equal(t, f.EncodedLen(), len(buf))

	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.True(t, decoded.Contains([]byte("alpha")))
	require.True(t, decoded.Contains([]byte("beta")))
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestNumHashesClamped(t *testing.T) {
	require.Equal(t, uint32(1), numHashesFor(0))
	require.GreaterOrEqual(t, numHashesFor(10), uint32(1))
	require.LessOrEqual(t, numHashesFor(1000), uint32(30))
}
