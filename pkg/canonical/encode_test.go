package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	B int    `json:"b"`
	A string `json:"a"`
}

func TestEncode_KeyOrderIsStableRegardlessOfMapIteration(t *testing.T) {
	m1 := map[string]int{"zeta": 1, "alpha": 2}
	m2 := map[string]int{"alpha": 2, "zeta": 1}

	e1, err := Encode(m1)
	require.NoError(t, err)
	e2, err := Encode(m2)
	require.NoError(t, err)
	assert.Equal(t, string(e1), string(e2))
}

func TestEncode_StructFieldOrderFollowsJCSNotGoTags(t *testing.T) {
	out, err := Encode(sample{B: 1, A: "x"})
	require.NoError(t, err)
	// JCS sorts object keys lexicographically: "a" before "b".
	assert.Equal(t, `{"a":"x","b":1}`, string(out))
}

func TestDecode_RoundTrips(t *testing.T) {
	in := sample{A: "hi", B: 42}
	enc, err := Encode(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Decode(enc, &out))
	assert.Equal(t, in, out)
}

func TestPrefixed_PrependsDomainPrefixBeforeEncodedBytes(t *testing.T) {
	body, err := Encode(sample{A: "x", B: 1})
	require.NoError(t, err)

	prefixed, err := Prefixed("DOMAIN-V0", sample{A: "x", B: 1})
	require.NoError(t, err)

	assert.Equal(t, "DOMAIN-V0"+string(body), string(prefixed))
}
