package merkle

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// randomLeaves generates n random 32-byte leaf digests for testing
func randomLeaves(n int) [][32]byte {
	leaves := make([][32]byte, n)
	for i := range leaves {
		_, _ = rand.Read(leaves[i][:]) // Ignore error in test helper
	}
	return leaves
}

// TestBuildTree tests tree construction and proof round-trips across sizes,
// including odd sizes that exercise trailing-node promotion
func TestBuildTree(t *testing.T) {
	testCases := []struct {
		name      string
		numLeaves int
	}{
		{"Single leaf", 1},
		{"Two leaves", 2},
		{"Three leaves", 3},
		{"Four leaves (power of 2)", 4},
		{"Five leaves", 5},
		{"Six leaves", 6},
		{"Seven leaves", 7},
		{"Eight leaves (power of 2)", 8},
		{"Fifteen leaves", 15},
		{"Sixteen leaves (power of 2)", 16},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			leaves := randomLeaves(tc.numLeaves)
			tree, err := BuildTree(leaves)
			require.NoError(t, err)
			require.NotNil(t, tree)

			require.Equal(t, tc.numLeaves, len(tree.Leaves))
			require.Equal(t, uint64(tc.numLeaves), tree.LeafCount())
			require.NotEqual(t, [32]byte{}, tree.Root)

			// Every leaf's proof must verify against the root
			for i := 0; i < tc.numLeaves; i++ {
				proof, err := tree.GenerateProof(uint64(i))
				require.NoError(t, err)
				require.Equal(t, uint64(i), proof.LeafIndex)
				require.Equal(t, tree.Leaves[i], proof.Leaf)

				require.True(t, proof.Verify(tree.LeafCount(), tree.Root),
					"proof for leaf %d should be valid", i)
			}
		})
	}
}

// TestBuildTreeEmpty tests that building a tree from no leaves fails
func TestBuildTreeEmpty(t *testing.T) {
	tree, err := BuildTree(nil)
	require.Error(t, err)
	require.Nil(t, tree)
	require.Contains(t, err.Error(), "empty")
}

// TestSingleLeafTree tests the degenerate one-leaf tree: the leaf is the
// root and the only valid proof is the empty one
func TestSingleLeafTree(t *testing.T) {
	leaves := randomLeaves(1)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)
	require.Equal(t, leaves[0], tree.Root)

	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	require.Empty(t, proof.Siblings)
	require.True(t, VerifyProof(0, 1, leaves[0], nil, tree.Root))
}

// TestEmptyProofRejectedForMultiLeafTree guards the degenerate/attack case:
// an empty proof must never verify when the tree has more than one leaf
func TestEmptyProofRejectedForMultiLeafTree(t *testing.T) {
	for _, n := range []int{2, 3, 4, 7} {
		t.Run(fmt.Sprintf("%d_leaves", n), func(t *testing.T) {
			leaves := randomLeaves(n)
			tree, err := BuildTree(leaves)
			require.NoError(t, err)

			for i := 0; i < n; i++ {
				require.False(t, VerifyProof(uint64(i), uint64(n), leaves[i], nil, tree.Root))
			}
			// Not even for a leaf that happens to equal the root
			require.False(t, VerifyProof(0, uint64(n), tree.Root, nil, tree.Root))
		})
	}
}

// TestOddNodePromotion pins the construction convention: the trailing node
// of an odd level is carried up unchanged, not hashed against itself
func TestOddNodePromotion(t *testing.T) {
	leaves := randomLeaves(3)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)

	inner := CombinePair(false, leaves[0], leaves[1])
	promoted := CombinePair(false, inner, leaves[2])
	require.Equal(t, promoted, tree.Root)

	duplicated := CombinePair(false, inner, CombinePair(false, leaves[2], leaves[2]))
	require.NotEqual(t, duplicated, tree.Root)

	// The promoted leaf's proof skips its own level entirely
	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.Len(t, proof.Siblings, 1)
	require.Equal(t, inner, proof.Siblings[0])
}

// TestCombinePairOrderSensitive tests that operand order changes the digest
func TestCombinePairOrderSensitive(t *testing.T) {
	leaves := randomLeaves(2)
	asLeft := CombinePair(false, leaves[0], leaves[1])
	asRight := CombinePair(true, leaves[0], leaves[1])
	require.NotEqual(t, asLeft, asRight)

	// Left child of current == right child of sibling
	require.Equal(t, asLeft, CombinePair(true, leaves[1], leaves[0]))
}

// TestVerifyProofRejections tests the tamper and mismatch cases
func TestVerifyProofRejections(t *testing.T) {
	leaves := randomLeaves(6)
	tree, err := BuildTree(leaves)
	require.NoError(t, err)
	n := tree.LeafCount()

	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.True(t, proof.Verify(n, tree.Root))

	t.Run("Wrong root", func(t *testing.T) {
		badRoot := [32]byte{1, 2, 3}
		require.False(t, proof.Verify(n, badRoot))
	})

	t.Run("Tampered leaf", func(t *testing.T) {
		tampered := proof.Leaf
		tampered[0] ^= 0xFF
		require.False(t, VerifyProof(proof.LeafIndex, n, tampered, proof.Siblings, tree.Root))
	})

	t.Run("Tampered sibling bit", func(t *testing.T) {
		siblings := make([][32]byte, len(proof.Siblings))
		copy(siblings, proof.Siblings)
		siblings[0][31] ^= 0x01
		require.False(t, VerifyProof(proof.LeafIndex, n, proof.Leaf, siblings, tree.Root))
	})

	t.Run("Wrong index", func(t *testing.T) {
		require.False(t, VerifyProof(3, n, proof.Leaf, proof.Siblings, tree.Root))
	})

	t.Run("Index out of bounds", func(t *testing.T) {
		require.False(t, VerifyProof(n, n, proof.Leaf, proof.Siblings, tree.Root))
	})

	t.Run("Truncated proof", func(t *testing.T) {
		require.False(t, VerifyProof(proof.LeafIndex, n, proof.Leaf, proof.Siblings[:len(proof.Siblings)-1], tree.Root))
	})

	t.Run("Extra trailing element", func(t *testing.T) {
		padded := append(append([][32]byte{}, proof.Siblings...), [32]byte{0xAA})
		require.False(t, VerifyProof(proof.LeafIndex, n, proof.Leaf, padded, tree.Root))
	})

	t.Run("Nil proof value", func(t *testing.T) {
		var nilProof *Proof
		require.False(t, nilProof.Verify(n, tree.Root))
	})
}

// TestGenerateProofOutOfBounds tests proof generation with invalid indices
func TestGenerateProofOutOfBounds(t *testing.T) {
	tree, err := BuildTree(randomLeaves(4))
	require.NoError(t, err)

	proof, err := tree.GenerateProof(4)
	require.Error(t, err)
	require.Nil(t, proof)
}

// TestTreeDeterminism tests that the same ordered leaves always produce the
// same root, and a reordering produces a different one
func TestTreeDeterminism(t *testing.T) {
	leaves := randomLeaves(10)

	tree1, err := BuildTree(leaves)
	require.NoError(t, err)
	tree2, err := BuildTree(leaves)
	require.NoError(t, err)
	require.Equal(t, tree1.Root, tree2.Root)

	swapped := make([][32]byte, len(leaves))
	copy(swapped, leaves)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	tree3, err := BuildTree(swapped)
	require.NoError(t, err)
	require.NotEqual(t, tree1.Root, tree3.Root)
}

// TestProofLength tests that proof length is at most ceil(log2(N))
func TestProofLength(t *testing.T) {
	testCases := []struct {
		numLeaves int
		maxDepth  int
	}{
		{1, 0},
		{2, 1},
		{3, 2},
		{4, 2},
		{8, 3},
		{9, 4},
		{100, 7},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d_leaves", tc.numLeaves), func(t *testing.T) {
			tree, err := BuildTree(randomLeaves(tc.numLeaves))
			require.NoError(t, err)

			for i := 0; i < tc.numLeaves; i++ {
				proof, err := tree.GenerateProof(uint64(i))
				require.NoError(t, err)
				require.LessOrEqual(t, len(proof.Siblings), tc.maxDepth)
			}
		})
	}
}

// TestLargeTree exercises a tree at airdrop scale
func TestLargeTree(t *testing.T) {
	const size = 5000
	tree, err := BuildTree(randomLeaves(size))
	require.NoError(t, err)

	for _, idx := range []uint64{0, size / 3, size / 2, size - 2, size - 1} {
		proof, err := tree.GenerateProof(idx)
		require.NoError(t, err)
		require.True(t, proof.Verify(size, tree.Root))
	}
}

// BenchmarkBuildTree measures construction cost at claim-list scale
func BenchmarkBuildTree(b *testing.B) {
	leaves := randomLeaves(10000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BuildTree(leaves)
	}
}

// BenchmarkVerifyProof measures the verification hot path
func BenchmarkVerifyProof(b *testing.B) {
	tree, err := BuildTree(randomLeaves(10000))
	if err != nil {
		b.Fatal(err)
	}
	proof, err := tree.GenerateProof(1234)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !proof.Verify(tree.LeafCount(), tree.Root) {
			b.Fatal("proof did not verify")
		}
	}
}
