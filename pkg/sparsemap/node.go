// Package sparsemap implements C7: the persistent sparse Merkle map
// used to publish each package log's current head under its log id
// (§4.4). The node model (Empty/Leaf/Singleton/Fork) and the
// copy-on-write insert algorithm are grounded on the original Rust
// implementation's map/map.rs (Default = Node::Empty(256), insert,
// prove).
package sparsemap

import (
	"crypto/sha256"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

// Depth is the map's fixed path length: the bit length of SHA-256.
const Depth = 256

type kind int

const (
	kindEmpty kind = iota
	kindLeaf
	kindSingleton
	kindFork
)

// node is one of Empty(height) / Leaf(value_hash) / Singleton{key,
// value, height} / Fork{left, right} (§4.4). hash is computed once
// at construction and never recomputed, since nodes are immutable.
type node struct {
	kind   kind
	height int
	hash   digest.Digest

	leaf    record.MapLeaf // kindLeaf, kindSingleton
	keyHash [32]byte       // kindSingleton

	left, right *node // kindFork
}

var emptyTable [Depth + 1]digest.Digest

func init() {
	emptyTable[0] = digest.OfSha256([]byte{wargcrypto.MerkleEmptyLeafPrefix})
	for h := 1; h <= Depth; h++ {
		emptyTable[h] = hashBranch(emptyTable[h-1], emptyTable[h-1])
	}
}

func emptyHashAt(height int) digest.Digest {
	return emptyTable[height]
}

func hashBranch(l, r digest.Digest) digest.Digest {
	buf := make([]byte, 0, 1+len(l.Bytes)+len(r.Bytes))
	buf = append(buf, wargcrypto.MerkleBranchPrefix)
	buf = append(buf, l.Bytes...)
	buf = append(buf, r.Bytes...)
	return digest.OfSha256(buf)
}

func hashLeaf(encoded []byte) digest.Digest {
	buf := make([]byte, 0, 1+len(encoded))
	buf = append(buf, wargcrypto.MerkleEmptyLeafPrefix)
	buf = append(buf, encoded...)
	return digest.OfSha256(buf)
}

func keyHashOf(key digest.Digest) [32]byte {
	return sha256.Sum256(key.Bytes)
}

// bitAt returns the bit (0 or 1) at bitIdx (0 = most significant bit of
// the first byte), matching the root-to-leaf, MSB-first path order
// §4.4 requires.
func bitAt(h [32]byte, bitIdx int) int {
	byteIdx := bitIdx / 8
	shift := 7 - uint(bitIdx%8)
	return int((h[byteIdx] >> shift) & 1)
}

func newEmptyNode(height int) *node {
	return &node{kind: kindEmpty, height: height, hash: emptyHashAt(height)}
}

func newLeafNode(leaf record.MapLeaf) *node {
	return &node{kind: kindLeaf, hash: hashLeaf(leaf.Encode()), leaf: leaf}
}

// newSingletonOrLeaf builds the node representing exactly one key/value
// known to live height levels above the leaf. At height 0 this degrades
// to a plain Leaf, since no path compression happens over zero levels.
func newSingletonOrLeaf(keyHash [32]byte, leaf record.MapLeaf, height int) *node {
	if height == 0 {
		return newLeafNode(leaf)
	}
	acc := hashLeaf(leaf.Encode())
	for level := 0; level < height; level++ {
		bitIdx := Depth - 1 - level
		sib := emptyHashAt(level)
		if bitAt(keyHash, bitIdx) == 0 {
			acc = hashBranch(acc, sib)
		} else {
			acc = hashBranch(sib, acc)
		}
	}
	return &node{kind: kindSingleton, height: height, hash: acc, leaf: leaf, keyHash: keyHash}
}

func newForkNode(left, right *node, height int) *node {
	return &node{kind: kindFork, height: height, hash: hashBranch(left.hash, right.hash), left: left, right: right}
}
