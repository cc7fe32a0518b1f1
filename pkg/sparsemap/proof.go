package sparsemap

import (
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// Proof is a compressed inclusion proof for one key: the sibling hash
// at every level from the leaf up to the root, leaf-adjacent first,
// with sparse siblings (equal to empty[h]) stored as a nil entry and
// any leading run of nil entries dropped entirely (§4.4). A
// verifier left-pads with nils to restore the full Depth-length path.
type Proof struct {
	Peers []*digest.Digest
}

// Prove walks the map down to key and returns its compressed inclusion
// proof. It fails if key is not present.
func (m *Map) Prove(key digest.Digest) (Proof, error) {
	kh := keyHashOf(key)
	collected := make([]*digest.Digest, Depth)

	n := m.root
	height := Depth
	for {
		switch n.kind {
		case kindLeaf:
			if height != 0 {
				return Proof{}, fmt.Errorf("sparsemap: %w: key not present", wargerr.RecordNotFound)
			}
			return Proof{Peers: stripLeadingNil(collected)}, nil

		case kindEmpty:
			return Proof{}, fmt.Errorf("sparsemap: %w: key not present", wargerr.RecordNotFound)

		case kindSingleton:
			if n.keyHash != kh {
				return Proof{}, fmt.Errorf("sparsemap: %w: key not present", wargerr.RecordNotFound)
			}
			return Proof{Peers: stripLeadingNil(collected)}, nil

		case kindFork:
			bitIdx := Depth - height
			var sibling *node
			if bitAt(kh, bitIdx) == 0 {
				sibling = n.right
				n = n.left
			} else {
				sibling = n.left
				n = n.right
			}
			level := height - 1
			if sibling.hash.Equal(emptyHashAt(level)) {
				collected[level] = nil
			} else {
				h := sibling.hash
				collected[level] = &h
			}
			height--

		default:
			panic("sparsemap: unreachable node kind")
		}
	}
}

func stripLeadingNil(full []*digest.Digest) []*digest.Digest {
	i := 0
	for i < len(full) && full[i] == nil {
		i++
	}
	return append([]*digest.Digest(nil), full[i:]...)
}

// Evaluate folds a compressed Proof for key/leaf back to a claimed root.
func (p Proof) Evaluate(key digest.Digest, leaf record.MapLeaf) digest.Digest {
	kh := keyHashOf(key)
	full := make([]*digest.Digest, Depth)
	offset := Depth - len(p.Peers)
	copy(full[offset:], p.Peers)

	acc := hashLeaf(leaf.Encode())
	for level := 0; level < Depth; level++ {
		bitIdx := Depth - 1 - level
		var sib digest.Digest
		if full[level] != nil {
			sib = *full[level]
		} else {
			sib = emptyHashAt(level)
		}
		if bitAt(kh, bitIdx) == 0 {
			acc = hashBranch(acc, sib)
		} else {
			acc = hashBranch(sib, acc)
		}
	}
	return acc
}
