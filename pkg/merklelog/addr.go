package merklelog

// nodeAddr names a subtree by its height (0 = leaf) and its position
// among subtrees of that height, counting from the left. A subtree at
// (height, start) covers leaf range [start*2^height, (start+1)*2^height).
type nodeAddr struct {
	height uint64
	start  uint64
}

// nodeIndex maps a subtree address to its flat position in the tree's
// in-order node numbering (§4.3: leaves at even indices 0,2,4,…;
// the node at odd index 2k+1 is the parent of 2k and its right
// sibling). This is the standard in-order numbering of a perfect binary
// tree embedded in a flat array: the complete subtree of height h at
// position `start` among subtrees of that height occupies index
// (start<<(h+1)) + (1<<h) - 1.
func nodeIndex(a nodeAddr) uint64 {
	return (a.start << (a.height + 1)) + (uint64(1) << a.height) - 1
}

func leafAddr(leafIndex uint64) nodeAddr {
	return nodeAddr{height: 0, start: leafIndex}
}

// leafRange returns the half-open [start, end) leaf index range a's
// subtree covers.
func (a nodeAddr) leafRange() (start, end uint64) {
	size := uint64(1) << a.height
	start = a.start * size
	return start, start + size
}

// contains reports whether a's subtree covers leaf index i.
func (a nodeAddr) contains(i uint64) bool {
	start, end := a.leafRange()
	return i >= start && i < end
}

// balancedRoots decomposes the prefix of length n into its maximal
// complete subtrees ("balanced roots"/broots), left-to-right, largest
// first: one subtree per set bit of n, from the most significant bit
// down (§4.3).
func balancedRoots(n uint64) []nodeAddr {
	var addrs []nodeAddr
	var leafPos uint64
	for h := 63; h >= 0; h-- {
		size := uint64(1) << uint(h)
		if n&size == 0 {
			continue
		}
		addrs = append(addrs, nodeAddr{height: uint64(h), start: leafPos / size})
		leafPos += size
	}
	return addrs
}
