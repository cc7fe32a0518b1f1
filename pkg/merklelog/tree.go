// Package merklelog implements C6: the append-only verifiable log, an
// RFC 6962-style binary Merkle tree over LogLeaf values, with balanced-
// roots checkpoints, inclusion/consistency proofs, and proof bundles
// (§4.3). The incremental append algorithm is grounded on the
// "stack of pending peaks" reduction from the original Rust
// implementation's StackLog (log/stack_log.rs): each append pushes a
// new height-0 frame and merges adjacent equal-height frames, giving
// O(log n) amortized work per append while keeping every historical
// internal node hash addressable and immutable.
package merklelog

import (
	"fmt"
	"sync"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

type frame struct {
	addr nodeAddr
	hash digest.Digest
}

// Tree is a thread-safe append-only Merkle log.
type Tree struct {
	mu     sync.RWMutex
	hashes map[uint64]digest.Digest
	length uint64
	stack  []frame
}

// New returns an empty log.
func New() *Tree {
	return &Tree{hashes: map[uint64]digest.Digest{}}
}

// Append adds leaf at the next index and returns that index. Every
// internal node hash this completes is stored permanently: later
// appends never invalidate it (§4.3's append-only guarantee).
func (t *Tree) Append(leaf record.LogLeaf) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.length
	addr := leafAddr(idx)
	h := hashLeaf(leaf.Encode())
	t.hashes[nodeIndex(addr)] = h
	t.stack = append(t.stack, frame{addr: addr, hash: h})
	t.reduce()
	t.length++
	return idx
}

// reduce merges adjacent equal-height stack frames until no two
// top-of-stack frames share a height, mirroring StackLog's carry
// propagation (equivalent to incrementing a binary counter).
func (t *Tree) reduce() {
	for len(t.stack) >= 2 {
		top := t.stack[len(t.stack)-1]
		second := t.stack[len(t.stack)-2]
		if top.addr.height != second.addr.height {
			return
		}
		t.stack = t.stack[:len(t.stack)-2]
		parentAddr := nodeAddr{height: second.addr.height + 1, start: second.addr.start / 2}
		parentHash := hashBranch(second.hash, top.hash)
		t.hashes[nodeIndex(parentAddr)] = parentHash
		t.stack = append(t.stack, frame{addr: parentAddr, hash: parentHash})
	}
}

// Length returns the number of leaves appended so far.
func (t *Tree) Length() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.length
}

// hashAt looks up a stored node hash by address. Callers must hold t.mu.
func (t *Tree) hashAt(a nodeAddr) (digest.Digest, bool) {
	h, ok := t.hashes[nodeIndex(a)]
	return h, ok
}

// RootAt computes the checkpoint root for the prefix of length n (spec
// §4.3). n must not exceed the tree's current length.
func (t *Tree) RootAt(n uint64) (digest.Digest, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootAtLocked(n)
}

func (t *Tree) rootAtLocked(n uint64) (digest.Digest, error) {
	if n == 0 {
		return emptyRoot(), nil
	}
	if n > t.length {
		return digest.Digest{}, fmt.Errorf("merklelog: %w: length %d exceeds tree length %d", wargerr.LeafTooNew, n, t.length)
	}
	addrs := balancedRoots(n)
	hashes := make([]digest.Digest, len(addrs))
	for i, a := range addrs {
		h, ok := t.hashAt(a)
		if !ok {
			return digest.Digest{}, fmt.Errorf("merklelog: %w: node for %+v unavailable", wargerr.HashNotKnown, a)
		}
		hashes[i] = h
	}
	return rightFoldHashes(hashes), nil
}
