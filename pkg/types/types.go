package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Distribution is one campaign: a token, a merkle root committing to the
// entitlement set, and the balance still held in custody for it.
type Distribution struct {
	// ID is the campaign identifier. IDs start at 1, increase monotonically
	// and are never reused.
	ID uint64 `json:"id"`

	// Token is the address of the fungible token distributed by this campaign.
	Token common.Address `json:"token"`

	// MerkleRoot commits to the full entitlement set. Immutable once stored.
	MerkleRoot common.Hash `json:"merkleRoot"`

	// LeafCount is the number of entitlements in the committed tree. It bounds
	// claim indices and drives proof verification against the root.
	LeafCount uint64 `json:"leafCount"`

	// RemainingAmount is what is left of the original deposit. It only ever
	// decreases; reaching zero does not retire the record.
	RemainingAmount *big.Int `json:"remainingAmount"`
}

// Copy returns a deep copy so stored records cannot be mutated by callers.
func (d *Distribution) Copy() *Distribution {
	if d == nil {
		return nil
	}
	cp := *d
	if d.RemainingAmount != nil {
		cp.RemainingAmount = new(big.Int).Set(d.RemainingAmount)
	}
	return &cp
}

// ClaimedEvent is emitted after a claim has fully settled, token transfer
// included.
type ClaimedEvent struct {
	// DistributionID is zero for the single-campaign distributor.
	DistributionID uint64         `json:"distributionId"`
	Index          uint64         `json:"index"`
	Recipient      common.Address `json:"recipient"`
	Amount         *big.Int       `json:"amount"`
}
