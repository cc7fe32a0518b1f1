package merklelog

import (
	"fmt"
	"sort"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// HashEntry is one sparse, node-index-keyed hash in a ProofBundle's wire
// form (§6: "each hash entry is {node_index, hash_bytes}").
type HashEntry struct {
	NodeIndex uint64
	Hash      digest.Digest
}

// ProofBundle carries any combination of inclusion and consistency
// proofs over one fixed LogLength, with exactly the sibling hashes they
// need, deduplicated and sorted by node index (§4.3).
type ProofBundle struct {
	LogLength           uint64
	ConsistentLengths   []uint64
	IncludedLeafIndices []uint64
	HashEntries         []HashEntry
}

// Bundle builds a ProofBundle proving inclusion of includedLeafIndices
// and consistency from each of consistentLengths, all against the
// checkpoint of length logLength. Bundling fails with HashNotKnown if
// any required sibling hash is unavailable.
func (t *Tree) Bundle(logLength uint64, consistentLengths []uint64, includedLeafIndices []uint64) (ProofBundle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if logLength > t.length {
		return ProofBundle{}, fmt.Errorf("merklelog: %w: length %d exceeds tree length %d", wargerr.LeafTooNew, logLength, t.length)
	}

	needed := map[uint64]nodeAddr{}
	addAddr := func(a nodeAddr) {
		needed[nodeIndex(a)] = a
	}

	for _, leafIdx := range includedLeafIndices {
		if leafIdx >= logLength {
			return ProofBundle{}, fmt.Errorf("merklelog: %w: leaf %d not present at length %d", wargerr.LeafTooNew, leafIdx, logLength)
		}
		addr := leafAddr(leafIdx)
		walkAddrs, lowerAddrs, upperAddrs, err := addrPath(addr, logLength, t.length)
		if err != nil {
			return ProofBundle{}, err
		}
		addAddr(addr)
		for _, a := range walkAddrs {
			addAddr(a)
		}
		for _, a := range lowerAddrs {
			addAddr(a)
		}
		for _, a := range upperAddrs {
			addAddr(a)
		}
	}

	for _, m := range consistentLengths {
		if m > logLength {
			return ProofBundle{}, fmt.Errorf("merklelog: %w: consistent length %d exceeds log length %d", wargerr.InconsistentLengths, m, logLength)
		}
		for _, broot := range balancedRoots(m) {
			walkAddrs, lowerAddrs, upperAddrs, err := addrPath(broot, logLength, t.length)
			if err != nil {
				return ProofBundle{}, err
			}
			addAddr(broot)
			for _, a := range walkAddrs {
				addAddr(a)
			}
			for _, a := range lowerAddrs {
				addAddr(a)
			}
			for _, a := range upperAddrs {
				addAddr(a)
			}
		}
	}

	indices := make([]uint64, 0, len(needed))
	for idx := range needed {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	entries := make([]HashEntry, 0, len(indices))
	for _, idx := range indices {
		h, ok := t.hashes[idx]
		if !ok {
			return ProofBundle{}, fmt.Errorf("merklelog: %w: node index %d unavailable", wargerr.HashNotKnown, idx)
		}
		entries = append(entries, HashEntry{NodeIndex: idx, Hash: h})
	}

	return ProofBundle{
		LogLength:           logLength,
		ConsistentLengths:   append([]uint64(nil), consistentLengths...),
		IncludedLeafIndices: append([]uint64(nil), includedLeafIndices...),
		HashEntries:         entries,
	}, nil
}

// sparseLookup is the dense-by-node-index view reconstructed from a
// bundle's deduplicated hash entries.
type sparseLookup map[uint64]digest.Digest

func (b ProofBundle) lookup() sparseLookup {
	m := make(sparseLookup, len(b.HashEntries))
	for _, e := range b.HashEntries {
		m[e.NodeIndex] = e.Hash
	}
	return m
}

func (m sparseLookup) get(a nodeAddr) (digest.Digest, bool) {
	h, ok := m[nodeIndex(a)]
	return h, ok
}

// Unbundle reproduces the individual NodeProof for each included leaf
// index, using only the bundle's sparse hash lookup (no access to the
// original tree).
func (b ProofBundle) Unbundle() (map[uint64]NodeProof, error) {
	lut := b.lookup()
	out := make(map[uint64]NodeProof, len(b.IncludedLeafIndices))
	for _, leafIdx := range b.IncludedLeafIndices {
		addr := leafAddr(leafIdx)
		walkAddrs, lowerAddrs, upperAddrs, err := addrPath(addr, b.LogLength, b.LogLength)
		if err != nil {
			return nil, err
		}
		startHash, ok := lut.get(addr)
		if !ok {
			return nil, fmt.Errorf("merklelog: %w: leaf %d", wargerr.HashNotKnown, leafIdx)
		}
		walk, err := resolveAll(lut, walkAddrs)
		if err != nil {
			return nil, err
		}
		lower, err := resolveAll(lut, lowerAddrs)
		if err != nil {
			return nil, err
		}
		upper, err := resolveAll(lut, upperAddrs)
		if err != nil {
			return nil, err
		}
		out[leafIdx] = NodeProof{
			Height: addr.height, Start: addr.start, TreeLength: b.LogLength,
			StartHash: startHash, InitialWalk: walk, LowerBroots: lower, UpperBroots: upper,
		}
	}
	return out, nil
}

// UnbundleConsistency reproduces the ConsistencyProof for fromLength,
// which must be one of the bundle's ConsistentLengths.
func (b ProofBundle) UnbundleConsistency(fromLength uint64) (ConsistencyProof, error) {
	lut := b.lookup()
	broots := balancedRoots(fromLength)
	proofs := make([]NodeProof, len(broots))
	for i, addr := range broots {
		walkAddrs, lowerAddrs, upperAddrs, err := addrPath(addr, b.LogLength, b.LogLength)
		if err != nil {
			return ConsistencyProof{}, err
		}
		startHash, ok := lut.get(addr)
		if !ok {
			return ConsistencyProof{}, fmt.Errorf("merklelog: %w: broot %+v", wargerr.HashNotKnown, addr)
		}
		walk, err := resolveAll(lut, walkAddrs)
		if err != nil {
			return ConsistencyProof{}, err
		}
		lower, err := resolveAll(lut, lowerAddrs)
		if err != nil {
			return ConsistencyProof{}, err
		}
		upper, err := resolveAll(lut, upperAddrs)
		if err != nil {
			return ConsistencyProof{}, err
		}
		proofs[i] = NodeProof{
			Height: addr.height, Start: addr.start, TreeLength: b.LogLength,
			StartHash: startHash, InitialWalk: walk, LowerBroots: lower, UpperBroots: upper,
		}
	}
	return ConsistencyProof{FromLength: fromLength, ToLength: b.LogLength, NodeProofs: proofs}, nil
}

func resolveAll(lut sparseLookup, addrs []nodeAddr) ([]digest.Digest, error) {
	out := make([]digest.Digest, len(addrs))
	for i, a := range addrs {
		h, ok := lut.get(a)
		if !ok {
			return nil, fmt.Errorf("merklelog: %w: node %+v", wargerr.HashNotKnown, a)
		}
		out[i] = h
	}
	return out, nil
}
