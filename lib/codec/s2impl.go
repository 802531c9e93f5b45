package codec

import (
	"github.com/klauspost/compress/s2"
)

// NewS2Codec creates a codec backed by the S2 block format.
func NewS2Codec() Codec {
	return &s2CodecImpl{}
}

// s2CodecImpl implements the Codec interface using S2 block encoding
type s2CodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c s2CodecImpl) Type() Type { return TypeS2 }

func (c s2CodecImpl) Encode(block []byte) ([]byte, error) {
	return s2.Encode(nil, block), nil
}

func (c s2CodecImpl) Decode(block []byte) ([]byte, error) {
	return s2.Decode(nil, block)
}
