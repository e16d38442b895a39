// Package token defines the fungible-token capability the distributor core
// depends on. The token contract itself is an external collaborator; the
// core only needs transfer, transferFrom and (for tooling) balance queries.
package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the minimal capability surface of an ERC20-style contract.
//
// Transfer primitives report failure two ways: an error, or a false success
// flag without an error (tokens that return false instead of reverting).
// Callers must treat both as failure.
type Token interface {
	// Address identifies the token contract.
	Address() common.Address

	// Transfer moves amount from the capability holder to the recipient.
	Transfer(to common.Address, amount *big.Int) (bool, error)

	// TransferFrom moves amount between third parties, bounded by the
	// allowance from has granted the holder.
	TransferFrom(from, to common.Address, amount *big.Int) (bool, error)

	// BalanceOf reports addr's balance. Used by tests and tooling only; the
	// core's invariants never depend on it.
	BalanceOf(addr common.Address) *big.Int
}
