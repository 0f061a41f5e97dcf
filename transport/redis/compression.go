package redis

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionLevel selects the zstd level for values stored in Redis.
type CompressionLevel string

const (
	CompressionLevelNone    CompressionLevel = "none"
	CompressionLevelFastest CompressionLevel = "fastest"
	CompressionLevelDefault CompressionLevel = "default"
	CompressionLevelBetter  CompressionLevel = "better"
	CompressionLevelBest    CompressionLevel = "best"
)

// defaultMinCompressSize is the size below which values are stored as-is.
const defaultMinCompressSize = 256

// ParseCompressionLevel validates a level name. Empty means default.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	switch l := CompressionLevel(s); l {
	case "":
		return CompressionLevelDefault, nil
	case CompressionLevelNone, CompressionLevelFastest, CompressionLevelDefault, CompressionLevelBetter, CompressionLevelBest:
		return l, nil
	default:
		return "", fmt.Errorf("unknown compression level %q: must be none, fastest, default, better or best", s)
	}
}

// Compressor zstd-compresses values. Decompress passes data without the zstd
// magic through unchanged, so values written before compression was enabled
// stay readable. A Compressor is safe for concurrent use.
type Compressor struct {
	level   CompressionLevel
	minSize int
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a Compressor for level.
func NewCompressor(level CompressionLevel) (*Compressor, error) {
	level, err := ParseCompressionLevel(string(level))
	if err != nil {
		return nil, err
	}

	c := &Compressor{level: level, minSize: defaultMinCompressSize}

	c.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if level == CompressionLevelNone {
		return c, nil
	}

	var encLevel zstd.EncoderLevel
	switch level {
	case CompressionLevelFastest:
		encLevel = zstd.SpeedFastest
	case CompressionLevelBetter:
		encLevel = zstd.SpeedBetterCompression
	case CompressionLevelBest:
		encLevel = zstd.SpeedBestCompression
	default:
		encLevel = zstd.SpeedDefault
	}
	c.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return c, nil
}

// Level returns the configured level.
func (c *Compressor) Level() CompressionLevel {
	return c.level
}

// Compress returns data compressed, or unchanged when compression is off or
// data is small.
func (c *Compressor) Compress(data []byte) []byte {
	if c.encoder == nil || len(data) < c.minSize {
		return data
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, make([]byte, 0, len(data)*4))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress value: %w", err)
	}
	return out, nil
}

// IsCompressed reports whether data starts with the zstd frame magic.
func IsCompressed(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == 0x28 &&
		data[1] == 0xB5 &&
		data[2] == 0x2F &&
		data[3] == 0xFD
}
