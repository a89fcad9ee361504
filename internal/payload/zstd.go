// Package payload provides the codec that compresses unit payloads before
// the engine stores them.
package payload

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses payloads with zstd. One value is safe for the engine's
// single writer; encoder and decoder are reused across calls.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd builds a codec at the given level (1 fastest .. 4 best).
func NewZstd(level int) (*Zstd, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Encode compresses src.
func (z *Zstd) Encode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode decompresses src.
func (z *Zstd) Decode(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// Close releases the codec's resources.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
