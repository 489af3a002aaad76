package cache

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

var ErrCorruptFrame = errors.New("cache: corrupt value frame")

// frameCodec prefixes shared-tier values with a one-byte marker and
// zstd-compresses values at or above threshold
type frameCodec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

func newFrameCodec(threshold int) (*frameCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &frameCodec{threshold: threshold, encoder: encoder, decoder: decoder}, nil
}

func (c *frameCodec) encode(value []byte) []byte {
	if c.threshold > 0 && len(value) >= c.threshold {
		return c.encoder.EncodeAll(value, []byte{frameZstd})
	}
	out := make([]byte, 0, len(value)+1)
	out = append(out, frameRaw)
	return append(out, value...)
}

func (c *frameCodec) decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrCorruptFrame
	}
	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameZstd:
		value, err := c.decoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}
		return value, nil
	default:
		return nil, ErrCorruptFrame
	}
}

func (c *frameCodec) close() {
	c.encoder.Close()
	c.decoder.Close()
}

// Marshal encodes a cache payload
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal decodes a cache payload
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}
