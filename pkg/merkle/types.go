package merkle

// Tree is a binary merkle tree over an ordered list of leaf digests.
// The tree uses keccak256 hashing for Solidity compatibility. When a level
// holds an odd number of nodes the trailing node is promoted to the next
// level unchanged; it is never hashed against a copy of itself.
type Tree struct {
	// Leaves contains the original leaf digests in the order they were given.
	Leaves [][32]byte

	// Root is the merkle root digest.
	Root [32]byte

	// levels stores all tree levels for proof generation.
	// levels[0] = leaves, levels[len-1] = [root]
	levels [][][32]byte
}

// LeafCount returns the number of leaves the tree was built over.
// Verification needs it to replay the level structure.
func (t *Tree) LeafCount() uint64 {
	return uint64(len(t.Leaves))
}

// Proof is the ordered sequence of sibling digests from a leaf to the root.
// Levels at which the node was promoted (odd trailing node) contribute no
// element. A proof is a pure value: verifying it does not consume it.
type Proof struct {
	// LeafIndex is the index of the proven leaf in the original leaf list.
	LeafIndex uint64

	// Leaf is the digest of the leaf being proven.
	Leaf [32]byte

	// Siblings holds the sibling digests, leaf level first.
	Siblings [][32]byte
}
