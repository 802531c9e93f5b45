package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCodecs is a map of codec name to type identifier
var testCodecs = map[string]Type{
	"Raw":  TypeRaw,
	"S2":   TypeS2,
	"Zstd": TypeZstd,
}

func testBlocks() [][]byte {
	return [][]byte{
		nil,
		[]byte(""),
		[]byte("a"),
		[]byte("hello, storage engine"),
		bytes.Repeat([]byte("abcdefgh"), 4096),
		{0x00, 0xff, 0x10, 0x7f, 0x80},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for name, typ := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c, err := New(typ)
			require.NoError(t, err)
			assert.Equal(t, typ, c.Type())

			for _, block := range testBlocks() {
				enc, err := c.Encode(block)
				require.NoError(t, err)
				dec, err := c.Decode(enc)
				require.NoError(t, err)
				assert.Equal(t, len(block), len(dec))
				assert.True(t, bytes.Equal(block, dec))
			}
		})
	}
}

func TestCompressibleDataShrinks(t *testing.T) {
	block := bytes.Repeat([]byte("the quick brown fox "), 1024)
	for _, typ := range []Type{TypeS2, TypeZstd} {
		c, err := New(typ)
		require.NoError(t, err)
		enc, err := c.Encode(block)
		require.NoError(t, err)
		assert.Less(t, len(enc), len(block), "%s must compress repetitive data", typ)
	}
}

func TestUnknownType(t *testing.T) {
	_, err := New("lz77")
	assert.Error(t, err)
}

func TestEmptyTypeDefaultsToRaw(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, TypeRaw, c.Type())
}
