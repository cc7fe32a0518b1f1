package sparsemap

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
)

func keyAt(i int) digest.Digest {
	return digest.OfSha256([]byte{'k', byte(i), byte(i >> 8)})
}

func leafAt(i int) record.MapLeaf {
	return record.MapLeaf{RecordID: digest.OfSha256([]byte{'v', byte(i), byte(i >> 8)})}
}

func TestInsert_EmptyMapRootIsEmptyHashAtFullDepth(t *testing.T) {
	m := New()
	assert.True(t, m.Root().Equal(emptyHashAt(Depth)))
}

func TestInsert_SingleKeyProofEvaluatesToRoot(t *testing.T) {
	m := New()
	k, v := keyAt(1), leafAt(1)
	m2 := m.Insert(k, v)

	proof, err := m2.Prove(k)
	require.NoError(t, err)
	assert.True(t, m2.Root().Equal(proof.Evaluate(k, v)))

	// The original empty map must be untouched (persistence).
	assert.True(t, m.Root().Equal(emptyHashAt(Depth)))
}

func TestInsert_ManyKeysEachProveIncluded(t *testing.T) {
	m := New()
	keys := make([]digest.Digest, 50)
	leaves := make([]record.MapLeaf, 50)
	for i := range keys {
		keys[i], leaves[i] = keyAt(i), leafAt(i)
		m = m.Insert(keys[i], leaves[i])
	}
	root := m.Root()
	for i := range keys {
		proof, err := m.Prove(keys[i])
		require.NoError(t, err)
		assert.True(t, root.Equal(proof.Evaluate(keys[i], leaves[i])), "key %d failed to prove", i)
	}
}

func TestInsert_OverwriteChangesRootAndValue(t *testing.T) {
	m := New()
	k := keyAt(7)
	m1 := m.Insert(k, leafAt(7))
	m2 := m1.Insert(k, leafAt(8))

	assert.False(t, m1.Root().Equal(m2.Root()))

	proof, err := m2.Prove(k)
	require.NoError(t, err)
	assert.True(t, m2.Root().Equal(proof.Evaluate(k, leafAt(8))))

	// m1 is unaffected by the later insert into m2.
	proof1, err := m1.Prove(k)
	require.NoError(t, err)
	assert.True(t, m1.Root().Equal(proof1.Evaluate(k, leafAt(7))))
}

func TestInsert_ReinsertingSameValueLeavesRootUnchanged(t *testing.T) {
	m := New()
	k, v := keyAt(3), leafAt(3)
	m1 := m.Insert(k, v)
	m2 := m1.Insert(k, v)
	assert.True(t, m1.Root().Equal(m2.Root()))
}

func TestProve_MissingKeyFails(t *testing.T) {
	m := New().Insert(keyAt(1), leafAt(1))
	_, err := m.Prove(keyAt(2))
	assert.Error(t, err)
}

func TestInsert_StructuralSharingAcrossPersistentVersions(t *testing.T) {
	m0 := New()
	m1 := m0.Insert(keyAt(1), leafAt(1))
	m2 := m1.Insert(keyAt(2), leafAt(2))

	// Earlier versions still answer as they did before the later inserts
	// (m0 holds no key, m1 proves key 1), demonstrating no in-place
	// mutation occurred on shared structure.
	p0, err := m0.Prove(keyAt(1))
	assert.Error(t, err)
	_ = p0

	p1, err := m1.Prove(keyAt(1))
	require.NoError(t, err)
	assert.True(t, m1.Root().Equal(p1.Evaluate(keyAt(1), leafAt(1))))

	p2a, err := m2.Prove(keyAt(1))
	require.NoError(t, err)
	assert.True(t, m2.Root().Equal(p2a.Evaluate(keyAt(1), leafAt(1))))

	p2b, err := m2.Prove(keyAt(2))
	require.NoError(t, err)
	assert.True(t, m2.Root().Equal(p2b.Evaluate(keyAt(2), leafAt(2))))
}

func TestProperty_EveryInsertedKeyProvesIncludedAcrossRandomSets(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("every inserted key proves included under the final root", prop.ForAll(
		func(n int) bool {
			m := New()
			for i := 0; i < n; i++ {
				m = m.Insert(keyAt(i), leafAt(i))
			}
			root := m.Root()
			for i := 0; i < n; i++ {
				proof, err := m.Prove(keyAt(i))
				if err != nil {
					return false
				}
				if !root.Equal(proof.Evaluate(keyAt(i), leafAt(i))) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
