package sparsemap

import (
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
)

// Map is a persistent sparse Merkle map keyed by 256-bit path (H(key)).
// Insert never mutates the receiver: it returns a new Map sharing every
// unchanged subtree with the original, so old roots stay valid for
// checkpoints already issued against them.
type Map struct {
	root *node
}

// New returns the empty map, §4.4's Default = Empty(256).
func New() *Map {
	return &Map{root: newEmptyNode(Depth)}
}

// Root returns this map's root hash.
func (m *Map) Root() digest.Digest {
	return m.root.hash
}

// Insert returns a new Map with key bound to leaf, leaving m untouched.
func (m *Map) Insert(key digest.Digest, leaf record.MapLeaf) *Map {
	kh := keyHashOf(key)
	return &Map{root: insert(m.root, Depth, kh, leaf)}
}

// insert descends n (standing at the given height) along kh, returning
// the replacement subtree after binding kh to leaf.
func insert(n *node, height int, kh [32]byte, leaf record.MapLeaf) *node {
	switch n.kind {
	case kindEmpty:
		return newSingletonOrLeaf(kh, leaf, height)

	case kindLeaf:
		// height == 0: the full path is consumed, so this is the same key.
		return newLeafNode(leaf)

	case kindSingleton:
		if n.keyHash == kh {
			return newSingletonOrLeaf(kh, leaf, height)
		}
		return splitSingleton(n, height, kh, leaf)

	case kindFork:
		bitIdx := Depth - height
		if bitAt(kh, bitIdx) == 0 {
			return newForkNode(insert(n.left, height-1, kh, leaf), n.right, height)
		}
		return newForkNode(n.left, insert(n.right, height-1, kh, leaf), height)

	default:
		panic("sparsemap: unreachable node kind")
	}
}

// splitSingleton replaces a Singleton holding a different key with the
// smallest subtree distinguishing the two keys: a Fork at their first
// differing bit, wrapped back up to height by single-child Forks whose
// empty sibling is a new Empty node hashed from the global empty table.
func splitSingleton(old *node, height int, kh [32]byte, leaf record.MapLeaf) *node {
	entryBit := Depth - height
	diffBit := entryBit
	for diffBit < Depth && bitAt(old.keyHash, diffBit) == bitAt(kh, diffBit) {
		diffBit++
	}

	childHeight := Depth - diffBit - 1
	oldChild := newSingletonOrLeaf(old.keyHash, old.leaf, childHeight)
	newChild := newSingletonOrLeaf(kh, leaf, childHeight)

	var cur *node
	if bitAt(old.keyHash, diffBit) == 0 {
		cur = newForkNode(oldChild, newChild, Depth-diffBit)
	} else {
		cur = newForkNode(newChild, oldChild, Depth-diffBit)
	}

	for bitIdx := diffBit - 1; bitIdx >= entryBit; bitIdx-- {
		curHeight := cur.height
		sibling := newEmptyNode(curHeight)
		if bitAt(kh, bitIdx) == 0 {
			cur = newForkNode(cur, sibling, curHeight+1)
		} else {
			cur = newForkNode(sibling, cur, curHeight+1)
		}
	}
	return cur
}
