package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfSha256_RoundTrips(t *testing.T) {
	d := OfSha256([]byte("(component)"))
	require.True(t, strings.HasPrefix(d.String(), "sha256:"))

	parsed, err := Parse(d.String())
	require.NoError(t, err)
	assert.True(t, d.Equal(parsed))
}

func TestParse_RejectsUppercaseHex(t *testing.T) {
	_, err := Parse("sha256:ABCD")
	require.ErrorIs(t, err, ErrIncorrectStructure)
}

func TestParse_RequiresExactlyOneColon(t *testing.T) {
	_, err := Parse("sha256-deadbeef")
	require.ErrorIs(t, err, ErrIncorrectStructure)
}

func TestCompare_Lexicographic(t *testing.T) {
	a := Digest{Algorithm: Sha256, Bytes: []byte{0x01}}
	b := Digest{Algorithm: Sha256, Bytes: []byte{0x02}}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestMarshalUnmarshalText(t *testing.T) {
	d := OfSha256([]byte("payload"))
	text, err := d.MarshalText()
	require.NoError(t, err)

	var got Digest
	require.NoError(t, got.UnmarshalText(text))
	assert.True(t, d.Equal(got))
}
