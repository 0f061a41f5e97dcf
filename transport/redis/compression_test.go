package redis

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressor_Levels(t *testing.T) {
	data := bytes.Repeat([]byte(`{"state":"Confirmed","transactionId":"5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb"}`), 50)

	for _, level := range []CompressionLevel{
		CompressionLevelFastest,
		CompressionLevelDefault,
		CompressionLevelBetter,
		CompressionLevelBest,
	} {
		t.Run(string(level), func(t *testing.T) {
			c, err := NewCompressor(level)
			require.NoError(t, err)
			require.Equal(t, level, c.Level())

			compressed := c.Compress(data)
			require.True(t, IsCompressed(compressed))
			require.Less(t, len(compressed), len(data))

			out, err := c.Decompress(compressed)
			require.NoError(t, err)
			require.Equal(t, data, out)
		})
	}
}

func TestCompressor_PassThrough(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1024)

	off, err := NewCompressor(CompressionLevelNone)
	require.NoError(t, err)
	require.Equal(t, data, off.Compress(data))

	on, err := NewCompressor("")
	require.NoError(t, err)
	require.Equal(t, CompressionLevelDefault, on.Level())

	small := []byte(`{"batchId":"b"}`)
	require.Equal(t, small, on.Compress(small))

	// Uncompressed values from older writers stay readable.
	out, err := on.Decompress(data)
	require.NoError(t, err)
	require.Equal(t, data, out)

	// A disabled compressor still reads compressed values.
	out, err = off.Decompress(on.Compress(data))
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestCompressor_Errors(t *testing.T) {
	_, err := NewCompressor("maximum")
	require.Error(t, err)

	c, err := NewCompressor(CompressionLevelDefault)
	require.NoError(t, err)
	_, err = c.Decompress([]byte{0x28, 0xB5, 0x2F, 0xFD, 0x00, 0x01})
	require.Error(t, err)
}
