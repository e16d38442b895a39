package distributor

import "github.com/pkg/errors"

// Claim failure taxonomy. All are terminal for the submitted inputs; nothing
// is retried internally.
var (
	// ErrUnknownDistribution is returned for a campaign id that was never
	// assigned.
	ErrUnknownDistribution = errors.New("unknown distribution")

	// ErrAlreadyClaimed is returned when the (campaign, index) bit is already
	// set. The entitlement is consumed; no further action is possible.
	ErrAlreadyClaimed = errors.New("already claimed")

	// ErrInsufficientRemaining is returned when the claim amount exceeds what
	// is left of the campaign's deposit.
	ErrInsufficientRemaining = errors.New("insufficient remaining amount")

	// ErrInvalidProof is returned when the recomputed root does not match the
	// campaign's root, including the empty-proof-on-multi-leaf-tree case.
	ErrInvalidProof = errors.New("invalid merkle proof")

	// ErrTransferFailed is returned when the token transfer errored or
	// reported false. The claim leaves no observable state change.
	ErrTransferFailed = errors.New("token transfer failed")
)
