package merkle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// BuildTree creates a binary merkle tree from an ordered list of leaf
// digests. Callers are responsible for ordering: the root is a function of
// the leaf list's order, not just its contents, because pair hashing is
// order-sensitive.
//
// Levels are built bottom-up by pairing adjacent nodes left to right. An odd
// trailing node is promoted to the next level unchanged.
func BuildTree(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree from empty leaf list")
	}

	levels := make([][][32]byte, 0)
	levels = append(levels, leaves)

	currentLevel := leaves
	for len(currentLevel) > 1 {
		nextLevel := make([][32]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 < len(currentLevel) {
				nextLevel = append(nextLevel, hashPair(currentLevel[i], currentLevel[i+1]))
			} else {
				// Odd trailing node: promote as-is, never duplicate.
				nextLevel = append(nextLevel, currentLevel[i])
			}
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &Tree{
		Leaves: leaves,
		Root:   currentLevel[0],
		levels: levels,
	}, nil
}

// GenerateProof creates the inclusion proof for the leaf at the given index.
// The proof holds the sibling digest at every level where the node has one;
// levels where the node was promoted contribute nothing, so proofs of
// different leaves in the same tree may have different lengths.
func (t *Tree) GenerateProof(index uint64) (*Proof, error) {
	if index >= uint64(len(t.Leaves)) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", index, len(t.Leaves))
	}

	siblings := make([][32]byte, 0)
	pos := index

	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]

		var siblingPos uint64
		if pos%2 == 0 {
			siblingPos = pos + 1
		} else {
			siblingPos = pos - 1
		}

		// A missing right sibling means this node was promoted; the level
		// contributes no proof element.
		if siblingPos < uint64(len(nodes)) {
			siblings = append(siblings, nodes[siblingPos])
		}

		pos /= 2
	}

	return &Proof{
		LeafIndex: index,
		Leaf:      t.Leaves[index],
		Siblings:  siblings,
	}, nil
}

// VerifyProof checks that leaf sits at index in a tree of leafCount leaves
// whose root is root. It replays the exact level structure the builder
// produced: at each level the node's position is index >> level, a level of
// odd size promotes its trailing node without consuming a proof element, and
// every other level folds the next sibling in with CombinePair. All proof
// elements must be consumed and the fold must land exactly on root.
//
// An empty proof is valid only for a single-leaf tree; for any leafCount > 1
// the fold demands at least one sibling, so empty proofs are rejected.
func VerifyProof(index uint64, leafCount uint64, leaf [32]byte, siblings [][32]byte, root [32]byte) bool {
	if leafCount == 0 || index >= leafCount {
		return false
	}

	node := leaf
	pos := index
	size := leafCount
	next := 0

	for size > 1 {
		if pos == size-1 && size%2 == 1 {
			// Promoted at this level; nothing to fold.
		} else {
			if next >= len(siblings) {
				return false
			}
			node = CombinePair(pos%2 == 1, node, siblings[next])
			next++
		}
		pos /= 2
		size = (size + 1) / 2
	}

	// Trailing proof elements would let a caller smuggle extra levels in.
	if next != len(siblings) {
		return false
	}

	return node == root
}

// Verify is the proof-value form of VerifyProof.
func (p *Proof) Verify(leafCount uint64, root [32]byte) bool {
	if p == nil {
		return false
	}
	return VerifyProof(p.LeafIndex, leafCount, p.Leaf, p.Siblings, root)
}

// CombinePair hashes two sibling digests into their parent. Concatenation
// order follows the position of current at that level: an even position puts
// current first, an odd position puts the sibling first. Swapping the order
// produces a different, unverifiable root.
func CombinePair(currentIsRight bool, current, sibling [32]byte) [32]byte {
	if currentIsRight {
		return hashPair(sibling, current)
	}
	return hashPair(current, sibling)
}

// hashPair computes keccak256(left || right) for two 32-byte digests.
func hashPair(left, right [32]byte) [32]byte {
	data := make([]byte, 64)
	copy(data[0:32], left[:])
	copy(data[32:64], right[:])

	return [32]byte(crypto.Keccak256Hash(data))
}
