package codec

import (
	"github.com/klauspost/compress/zstd"
)

// NewZstdCodec creates a codec backed by Zstandard. Encoder and decoder are
// created once and reused; both are safe for concurrent use.
func NewZstdCodec() (Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCodecImpl{enc: enc, dec: dec}, nil
}

// zstdCodecImpl implements the Codec interface using Zstandard
type zstdCodecImpl struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c *zstdCodecImpl) Type() Type { return TypeZstd }

func (c *zstdCodecImpl) Encode(block []byte) ([]byte, error) {
	return c.enc.EncodeAll(block, nil), nil
}

func (c *zstdCodecImpl) Decode(block []byte) ([]byte, error) {
	return c.dec.DecodeAll(block, nil)
}
