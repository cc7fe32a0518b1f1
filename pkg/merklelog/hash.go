package merklelog

import (
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

// hashLeaf implements §4.3: hash_leaf(v) = H(0x00 || encode(v)).
func hashLeaf(encoded []byte) digest.Digest {
	buf := make([]byte, 0, 1+len(encoded))
	buf = append(buf, wargcrypto.MerkleEmptyLeafPrefix)
	buf = append(buf, encoded...)
	return digest.OfSha256(buf)
}

// hashBranch implements §4.3: hash_branch(l, r) = H(0x01 || l || r).
func hashBranch(l, r digest.Digest) digest.Digest {
	buf := make([]byte, 0, 1+len(l.Bytes)+len(r.Bytes))
	buf = append(buf, wargcrypto.MerkleBranchPrefix)
	buf = append(buf, l.Bytes...)
	buf = append(buf, r.Bytes...)
	return digest.OfSha256(buf)
}

// emptyRoot is the root hash of a zero-leaf tree: H(empty_prefix).
func emptyRoot() digest.Digest {
	return digest.OfSha256([]byte{wargcrypto.MerkleEmptyLeafPrefix})
}

// rightFoldHashes combines hashes right-associatively:
// combine(h0, combine(h1, combine(h2, ...))). Used both for computing a
// checkpoint root from its balanced roots, and for folding the lower
// broots of an inclusion proof.
func rightFoldHashes(hashes []digest.Digest) digest.Digest {
	if len(hashes) == 0 {
		return emptyRoot()
	}
	acc := hashes[len(hashes)-1]
	for i := len(hashes) - 2; i >= 0; i-- {
		acc = hashBranch(hashes[i], acc)
	}
	return acc
}
