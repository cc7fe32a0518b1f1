package merklelog

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

func leafAt(i int) record.LogLeaf {
	return record.LogLeaf{
		LogID:    digest.OfSha256([]byte("log")),
		RecordID: digest.OfSha256([]byte{byte(i), byte(i >> 8)}),
	}
}

// naiveRoot recomputes the root of leaves[:n] by direct recursive
// halving, independent of the incremental stack algorithm under test.
func naiveRoot(leaves []record.LogLeaf) digest.Digest {
	if len(leaves) == 0 {
		return emptyRoot()
	}
	hashes := make([]digest.Digest, len(leaves))
	for i, l := range leaves {
		hashes[i] = hashLeaf(l.Encode())
	}
	return naiveFold(hashes)
}

func naiveFold(hashes []digest.Digest) digest.Digest {
	if len(hashes) == 1 {
		return hashes[0]
	}
	k := largestPowerOfTwoLessThan(len(hashes))
	return hashBranch(naiveFold(hashes[:k]), naiveFold(hashes[k:]))
}

func largestPowerOfTwoLessThan(n int) int {
	k := 1
	for k*2 < n {
		k *= 2
	}
	return k
}

func TestIncrementalRoot_MatchesNaiveRecursiveRoot(t *testing.T) {
	tree := New()
	var leaves []record.LogLeaf
	for i := 0; i < 37; i++ {
		l := leafAt(i)
		leaves = append(leaves, l)
		tree.Append(l)

		got, err := tree.RootAt(uint64(len(leaves)))
		require.NoError(t, err)
		want := naiveRoot(leaves)
		assert.True(t, want.Equal(got), "length %d: incremental root diverged from naive root", len(leaves))
	}
}

func TestProveInclusion_EvaluatesToRoot(t *testing.T) {
	tree := New()
	for i := 0; i < 20; i++ {
		tree.Append(leafAt(i))
	}
	const n = 20
	root, err := tree.RootAt(n)
	require.NoError(t, err)

	for i := uint64(0); i < n; i++ {
		proof, err := tree.ProveInclusion(i, n)
		require.NoError(t, err)
		assert.True(t, root.Equal(proof.Evaluate()), "leaf %d did not evaluate to root", i)
	}
}

func TestProveInclusion_RejectsLeafTooNew(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		tree.Append(leafAt(i))
	}
	_, err := tree.ProveInclusion(10, 5)
	assert.True(t, errors.Is(err, wargerr.LeafTooNew))
}

func TestProveConsistency_BothRootsCheckOut(t *testing.T) {
	tree := New()
	for i := 0; i < 15; i++ {
		tree.Append(leafAt(i))
	}
	rootAt7, err := tree.RootAt(7)
	require.NoError(t, err)
	rootAt15, err := tree.RootAt(15)
	require.NoError(t, err)

	proof, err := tree.ProveConsistency(7, 15)
	require.NoError(t, err)
	assert.True(t, rootAt7.Equal(proof.RootM()))
	gotN, err := proof.RootN()
	require.NoError(t, err)
	assert.True(t, rootAt15.Equal(gotN))
}

func TestProveConsistency_RejectsPointsOutOfOrder(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		tree.Append(leafAt(i))
	}
	_, err := tree.ProveConsistency(4, 2)
	assert.True(t, errors.Is(err, wargerr.PointsOutOfOrder))
}

func TestBundle_InclusionRoundTripsThroughUnbundle(t *testing.T) {
	tree := New()
	for i := 0; i < 30; i++ {
		tree.Append(leafAt(i))
	}
	const n = 30
	root, err := tree.RootAt(n)
	require.NoError(t, err)

	bundle, err := tree.Bundle(n, nil, []uint64{0, 5, 29})
	require.NoError(t, err)

	proofs, err := bundle.Unbundle()
	require.NoError(t, err)
	for _, idx := range []uint64{0, 5, 29} {
		p, ok := proofs[idx]
		require.True(t, ok)
		assert.True(t, root.Equal(p.Evaluate()))
	}
}

func TestBundle_ConsistencyRoundTripsThroughUnbundle(t *testing.T) {
	tree := New()
	for i := 0; i < 30; i++ {
		tree.Append(leafAt(i))
	}
	const n = 30
	rootAt12, err := tree.RootAt(12)
	require.NoError(t, err)
	rootAtN, err := tree.RootAt(n)
	require.NoError(t, err)

	bundle, err := tree.Bundle(n, []uint64{12}, nil)
	require.NoError(t, err)

	proof, err := bundle.UnbundleConsistency(12)
	require.NoError(t, err)
	assert.True(t, rootAt12.Equal(proof.RootM()))
	gotN, err := proof.RootN()
	require.NoError(t, err)
	assert.True(t, rootAtN.Equal(gotN))
}

func TestBundle_HashEntriesDeduplicatedAndSorted(t *testing.T) {
	tree := New()
	for i := 0; i < 16; i++ {
		tree.Append(leafAt(i))
	}
	bundle, err := tree.Bundle(16, nil, []uint64{0, 1, 2, 3})
	require.NoError(t, err)

	seen := map[uint64]bool{}
	for i, e := range bundle.HashEntries {
		assert.False(t, seen[e.NodeIndex], "duplicate node index %d in bundle", e.NodeIndex)
		seen[e.NodeIndex] = true
		if i > 0 {
			assert.Less(t, bundle.HashEntries[i-1].NodeIndex, e.NodeIndex)
		}
	}
}

func TestProperty_IncrementalRootMatchesNaiveAcrossRandomLengths(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("incremental append root equals naive recursive root", prop.ForAll(
		func(n int) bool {
			tree := New()
			var leaves []record.LogLeaf
			for i := 0; i < n; i++ {
				l := leafAt(i)
				leaves = append(leaves, l)
				tree.Append(l)
			}
			got, err := tree.RootAt(uint64(n))
			if err != nil {
				return false
			}
			return naiveRoot(leaves).Equal(got)
		},
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}
