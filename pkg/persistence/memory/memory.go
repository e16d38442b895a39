package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/dropforge/merkledrop-go/pkg/persistence"
	"github.com/dropforge/merkledrop-go/pkg/types"
)

type wordKey struct {
	distributionID uint64
	wordIndex      uint64
}

// MemoryPersistence is an in-memory implementation of
// IDistributorPersistence. All state is lost when the process exits, which
// makes it the right default for tests and single-run tooling and the wrong
// one for anything custodial.
//
// Thread-safe using sync.RWMutex. Deep copies records to prevent external
// mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	nextID        uint64
	distributions map[uint64]*types.Distribution
	claimWords    map[wordKey]*uint256.Int
	closed        bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		distributions: make(map[uint64]*types.Distribution),
		claimWords:    make(map[wordKey]*uint256.Int),
	}
}

// NextDistributionID reserves the next campaign id, starting at 1.
func (m *MemoryPersistence) NextDistributionID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("persistence layer is closed")
	}

	m.nextID++
	return m.nextID, nil
}

// SaveDistribution persists a campaign record.
func (m *MemoryPersistence) SaveDistribution(d *types.Distribution) error {
	if d == nil {
		return fmt.Errorf("cannot save nil distribution")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.distributions[d.ID] = d.Copy()
	return nil
}

// LoadDistribution retrieves a campaign record by id.
func (m *MemoryPersistence) LoadDistribution(id uint64) (*types.Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	d, exists := m.distributions[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return d.Copy(), nil
}

// ListDistributions returns all campaign records sorted by id.
func (m *MemoryPersistence) ListDistributions() ([]*types.Distribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ids := make([]uint64, 0, len(m.distributions))
	for id := range m.distributions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]*types.Distribution, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.distributions[id].Copy())
	}
	return result, nil
}

// LoadClaimWord retrieves a claim word; missing words read as zero.
func (m *MemoryPersistence) LoadClaimWord(distributionID, wordIndex uint64) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	word, exists := m.claimWords[wordKey{distributionID, wordIndex}]
	if !exists {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(word), nil
}

// SaveClaimWord persists a claim word.
func (m *MemoryPersistence) SaveClaimWord(distributionID, wordIndex uint64, word *uint256.Int) error {
	if word == nil {
		return fmt.Errorf("cannot save nil claim word")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.claimWords[wordKey{distributionID, wordIndex}] = new(uint256.Int).Set(word)
	return nil
}

// Close marks the layer closed; subsequent operations fail.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ persistence.IDistributorPersistence = (*MemoryPersistence)(nil)
