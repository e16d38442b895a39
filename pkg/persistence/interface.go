package persistence

import (
	"github.com/holiman/uint256"

	"github.com/dropforge/merkledrop-go/pkg/types"
)

// IDistributorPersistence defines the storage layer behind the distribution
// registry: campaign records, the monotonic campaign-id counter, and the
// packed claim-bitmap words. All implementations must be safe for concurrent
// use; the registry additionally serializes its own operations.
type IDistributorPersistence interface {
	// NextDistributionID reserves and returns the next campaign id.
	// IDs start at 1, increase monotonically and are never reused, even
	// across restarts of a durable backend.
	NextDistributionID() (uint64, error)

	// SaveDistribution persists a campaign record, overwriting any existing
	// record with the same id.
	SaveDistribution(d *types.Distribution) error

	// LoadDistribution retrieves a campaign record by id.
	// Returns nil if the record doesn't exist, error only on storage failure.
	LoadDistribution(id uint64) (*types.Distribution, error)

	// ListDistributions returns all campaign records sorted by id (ascending).
	// Returns an empty slice if none exist, error only on storage failure.
	ListDistributions() ([]*types.Distribution, error)

	// LoadClaimWord retrieves the 256-bit claim word at (distributionID,
	// wordIndex). A word that was never written reads as zero.
	LoadClaimWord(distributionID, wordIndex uint64) (*uint256.Int, error)

	// SaveClaimWord persists the 256-bit claim word at (distributionID,
	// wordIndex), overwriting the previous value.
	SaveClaimWord(distributionID, wordIndex uint64, word *uint256.Int) error

	// Close cleanly shuts down the persistence layer. Operations after Close
	// return an error.
	Close() error
}
