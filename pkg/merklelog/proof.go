package merklelog

import (
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// NodeProof is the inclusion proof for one subtree node (a leaf, for a
// plain inclusion proof, or an internal balanced-root node when proving
// consistency) within the tree of length TreeLength: the siblings
// walked from the node up to the balanced root that covers it ("initial
// walk"), then the broots to the right of that covering root ("lower
// broots", nearest-first) and to its left ("upper broots", nearest-
// first), §4.3.
type NodeProof struct {
	Height      uint64
	Start       uint64
	TreeLength  uint64
	StartHash   digest.Digest
	InitialWalk []digest.Digest
	LowerBroots []digest.Digest
	UpperBroots []digest.Digest
}

// Evaluate folds the proof back to a claimed root: initial walk
// left-to-right first, then lower broots, then upper broots (spec
// §4.3's stated evaluation order).
func (p NodeProof) Evaluate() digest.Digest {
	acc := p.StartHash
	pos := p.Start
	for _, sib := range p.InitialWalk {
		if pos%2 == 0 {
			acc = hashBranch(acc, sib)
		} else {
			acc = hashBranch(sib, acc)
		}
		pos /= 2
	}
	if len(p.LowerBroots) > 0 {
		acc = hashBranch(acc, rightFoldHashes(p.LowerBroots))
	}
	for i := 0; i < len(p.UpperBroots); i++ {
		acc = hashBranch(p.UpperBroots[i], acc)
	}
	return acc
}

// addrPath locates addr within the balanced-root decomposition of
// length n and returns the addresses needed to prove it: the sibling
// chain from addr up to its covering broot ("initial walk"), the broots
// to the right of the cover (nearest-first), and the broots to its left
// (nearest-first). It performs no hash lookups, so it can serve both a
// single NodeProof and a shared-hash ProofBundle.
func addrPath(addr nodeAddr, n, treeLength uint64) (walkAddrs []nodeAddr, lowerAddrs []nodeAddr, upperAddrs []nodeAddr, err error) {
	if n > treeLength {
		return nil, nil, nil, fmt.Errorf("merklelog: %w: length %d exceeds tree length %d", wargerr.LeafTooNew, n, treeLength)
	}
	addrs := balancedRoots(n)
	coverIdx := -1
	ns, ne := addr.leafRange()
	for i, a := range addrs {
		as, ae := a.leafRange()
		if as <= ns && ne <= ae {
			coverIdx = i
			break
		}
	}
	if coverIdx == -1 {
		return nil, nil, nil, fmt.Errorf("merklelog: %w: node not covered by length %d", wargerr.LeafTooNew, n)
	}
	cover := addrs[coverIdx]
	for cur := addr; cur != cover; cur = nodeAddr{height: cur.height + 1, start: cur.start / 2} {
		walkAddrs = append(walkAddrs, nodeAddr{height: cur.height, start: cur.start ^ 1})
	}
	for i := coverIdx + 1; i < len(addrs); i++ {
		lowerAddrs = append(lowerAddrs, addrs[i])
	}
	for i := coverIdx - 1; i >= 0; i-- {
		upperAddrs = append(upperAddrs, addrs[i])
	}
	return walkAddrs, lowerAddrs, upperAddrs, nil
}

// proveNodeAt builds a NodeProof for addr against the prefix of length
// n. Callers must hold t.mu for reading.
func (t *Tree) proveNodeAt(addr nodeAddr, n uint64) (NodeProof, error) {
	walkAddrs, lowerAddrs, upperAddrs, err := addrPath(addr, n, t.length)
	if err != nil {
		return NodeProof{}, err
	}
	startHash, ok := t.hashAt(addr)
	if !ok {
		return NodeProof{}, fmt.Errorf("merklelog: %w", wargerr.HashNotKnown)
	}
	walk := make([]digest.Digest, len(walkAddrs))
	for i, a := range walkAddrs {
		h, ok := t.hashAt(a)
		if !ok {
			return NodeProof{}, fmt.Errorf("merklelog: %w: sibling for %+v unavailable", wargerr.HashNotKnown, a)
		}
		walk[i] = h
	}
	lower := make([]digest.Digest, len(lowerAddrs))
	for i, a := range lowerAddrs {
		h, ok := t.hashAt(a)
		if !ok {
			return NodeProof{}, fmt.Errorf("merklelog: %w", wargerr.HashNotKnown)
		}
		lower[i] = h
	}
	upper := make([]digest.Digest, len(upperAddrs))
	for i, a := range upperAddrs {
		h, ok := t.hashAt(a)
		if !ok {
			return NodeProof{}, fmt.Errorf("merklelog: %w", wargerr.HashNotKnown)
		}
		upper[i] = h
	}
	return NodeProof{
		Height: addr.height, Start: addr.start, TreeLength: n,
		StartHash: startHash, InitialWalk: walk, LowerBroots: lower, UpperBroots: upper,
	}, nil
}

// ProveInclusion proves leafIndex is included in the checkpoint of
// length n.
func (t *Tree) ProveInclusion(leafIndex, n uint64) (NodeProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if leafIndex >= n {
		return NodeProof{}, fmt.Errorf("merklelog: %w: leaf %d not present at length %d", wargerr.LeafTooNew, leafIndex, n)
	}
	return t.proveNodeAt(leafAddr(leafIndex), n)
}

// ConsistencyProof proves that the checkpoint of length m is a prefix
// of the checkpoint of length n (§4.3): one NodeProof per balanced
// root of m, each proven included in the tree of length n.
type ConsistencyProof struct {
	FromLength uint64
	ToLength   uint64
	NodeProofs []NodeProof
}

// RootM folds the consistency proof's starting hashes back to the
// claimed root of length FromLength.
func (p ConsistencyProof) RootM() digest.Digest {
	hashes := make([]digest.Digest, len(p.NodeProofs))
	for i, np := range p.NodeProofs {
		hashes[i] = np.StartHash
	}
	return rightFoldHashes(hashes)
}

// RootN evaluates every NodeProof and returns the common result, or an
// error if they disagree (which would mean the proof is internally
// inconsistent).
func (p ConsistencyProof) RootN() (digest.Digest, error) {
	if len(p.NodeProofs) == 0 {
		return emptyRoot(), nil
	}
	want := p.NodeProofs[0].Evaluate()
	for _, np := range p.NodeProofs[1:] {
		if got := np.Evaluate(); !got.Equal(want) {
			return digest.Digest{}, fmt.Errorf("merklelog: consistency proof node evaluations disagree")
		}
	}
	return want, nil
}

// ProveConsistency proves the checkpoint of length m is a prefix of the
// checkpoint of length n.
func (t *Tree) ProveConsistency(m, n uint64) (ConsistencyProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m > n {
		return ConsistencyProof{}, fmt.Errorf("merklelog: %w: m=%d > n=%d", wargerr.PointsOutOfOrder, m, n)
	}
	if n > t.length {
		return ConsistencyProof{}, fmt.Errorf("merklelog: %w: length %d exceeds tree length %d", wargerr.LeafTooNew, n, t.length)
	}
	mBroots := balancedRoots(m)
	proofs := make([]NodeProof, len(mBroots))
	for i, a := range mBroots {
		np, err := t.proveNodeAt(a, n)
		if err != nil {
			return ConsistencyProof{}, err
		}
		proofs[i] = np
	}
	return ConsistencyProof{FromLength: m, ToLength: n, NodeProofs: proofs}, nil
}
