package distributor

import "github.com/holiman/uint256"

// Claim indices are packed into 256-bit words: word index/256, bit index%256.
// Bits are only ever set, never cleared.

// claimSlot returns the word index and single-bit mask for a claim index.
func claimSlot(index uint64) (uint64, *uint256.Int) {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(index%256))
	return index / 256, mask
}

// bitSet reports whether the masked bit is set in word. A nil word is all
// zeroes.
func bitSet(word, mask *uint256.Int) bool {
	if word == nil {
		return false
	}
	return !new(uint256.Int).And(word, mask).IsZero()
}
