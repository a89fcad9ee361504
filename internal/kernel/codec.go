package kernel

import "slices"

// Codec encodes unit payloads for storage. The engine never looks inside a
// payload; it only accounts for its stored size.
type Codec interface {
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// rawCodec stores payloads unchanged.
type rawCodec struct{}

func (rawCodec) Encode(src []byte) ([]byte, error) { return slices.Clone(src), nil }
func (rawCodec) Decode(src []byte) ([]byte, error) { return slices.Clone(src), nil }
