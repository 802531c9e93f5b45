package codec

import "fmt"

// Type identifies a compression implementation in configuration files and
// persisted table metadata.
type Type string

const (
	TypeRaw  Type = "raw"
	TypeS2   Type = "s2"
	TypeZstd Type = "zstd"
)

// Codec is the interface for all block compression implementations.
type Codec interface {
	// Type returns the identifier persisted alongside compressed data.
	Type() Type
	// Encode compresses a block. The input slice is not retained.
	Encode(block []byte) ([]byte, error)
	// Decode restores a block previously produced by Encode.
	Decode(block []byte) ([]byte, error)
}

// New creates a codec for the given type identifier.
func New(t Type) (Codec, error) {
	switch t {
	case TypeRaw, "":
		return NewRawCodec(), nil
	case TypeS2:
		return NewS2Codec(), nil
	case TypeZstd:
		return NewZstdCodec()
	default:
		return nil, fmt.Errorf("codec: unknown type %q", t)
	}
}
