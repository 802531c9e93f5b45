package codec

// NewRawCodec creates a codec that stores blocks verbatim.
func NewRawCodec() Codec {
	return &rawCodecImpl{}
}

// rawCodecImpl implements the Codec interface as the identity transform
type rawCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c rawCodecImpl) Type() Type { return TypeRaw }

func (c rawCodecImpl) Encode(block []byte) ([]byte, error) {
	out := make([]byte, len(block))
	copy(out, block)
	return out, nil
}

func (c rawCodecImpl) Decode(block []byte) ([]byte, error) {
	out := make([]byte, len(block))
	copy(out, block)
	return out, nil
}
