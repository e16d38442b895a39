package distributor

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dropforge/merkledrop-go/pkg/merkle"
	"github.com/dropforge/merkledrop-go/pkg/token"
	"github.com/dropforge/merkledrop-go/pkg/types"
)

// SingleDistributor serves exactly one campaign: one token, one root, fixed
// at construction. It keeps its claim bitmap in memory and carries no
// remaining-balance ledger; payouts draw on whatever balance the
// distributor's token handle holds.
type SingleDistributor struct {
	mu        sync.Mutex
	token     token.Token
	root      common.Hash
	leafCount uint64
	logger    *zap.Logger

	claimedWords map[uint64]*uint256.Int
	claimFeed    event.Feed
}

// NewSingleDistributor creates a distributor for a fixed (token, root,
// leafCount) campaign. The token handle must be bound to an address already
// funded with the campaign's tokens.
func NewSingleDistributor(tok token.Token, root common.Hash, leafCount uint64, logger *zap.Logger) (*SingleDistributor, error) {
	if tok == nil {
		return nil, fmt.Errorf("token handle cannot be nil")
	}
	if leafCount == 0 {
		return nil, fmt.Errorf("leaf count cannot be zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SingleDistributor{
		token:        tok,
		root:         root,
		leafCount:    leafCount,
		logger:       logger,
		claimedWords: make(map[uint64]*uint256.Int),
	}, nil
}

// Token returns the campaign's token address.
func (s *SingleDistributor) Token() common.Address {
	return s.token.Address()
}

// MerkleRoot returns the committed root.
func (s *SingleDistributor) MerkleRoot() common.Hash {
	return s.root
}

// IsClaimed reports whether the entitlement at index has been consumed.
func (s *SingleDistributor) IsClaimed(index uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	wordIndex, mask := claimSlot(index)
	return bitSet(s.claimedWords[wordIndex], mask)
}

// Claim redeems an address-keyed entitlement, paying the account itself.
func (s *SingleDistributor) Claim(index uint64, account common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("claim amount must be positive")
	}
	leaf := merkle.AddressLeaf(index, account, amount)
	return s.claim(index, leaf, account, amount, proof)
}

// ClaimForIdentifier redeems a string-keyed entitlement, paying the supplied
// recipient.
func (s *SingleDistributor) ClaimForIdentifier(index uint64, identifierHash common.Hash, recipient common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("claim amount must be positive")
	}
	leaf := merkle.IdentifierLeaf(index, identifierHash, amount)
	return s.claim(index, leaf, recipient, amount, proof)
}

func (s *SingleDistributor) claim(index uint64, leaf [32]byte, recipient common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	ev, err := s.settle(index, leaf, recipient, amount, proof)
	if err != nil {
		return nil, err
	}

	// Deliver outside the lock so a slow subscriber cannot stall claims.
	s.claimFeed.Send(ev)
	return ev, nil
}

func (s *SingleDistributor) settle(index uint64, leaf [32]byte, recipient common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wordIndex, mask := claimSlot(index)
	word := s.claimedWords[wordIndex]
	if bitSet(word, mask) {
		return nil, errors.Wrapf(ErrAlreadyClaimed, "index %d", index)
	}

	if !merkle.VerifyProof(index, s.leafCount, leaf, proofDigests(proof), [32]byte(s.root)) {
		return nil, errors.Wrapf(ErrInvalidProof, "index %d", index)
	}

	// Set the bit before the external transfer, undo it if the transfer
	// fails.
	if word == nil {
		word = new(uint256.Int)
	}
	s.claimedWords[wordIndex] = new(uint256.Int).Or(word, mask)

	ok, err := s.token.Transfer(recipient, amount)
	if err != nil || !ok {
		s.claimedWords[wordIndex] = word
		if err != nil {
			return nil, errors.Wrap(ErrTransferFailed, err.Error())
		}
		return nil, errors.Wrap(ErrTransferFailed, "transfer returned false")
	}

	ev := &types.ClaimedEvent{
		Index:     index,
		Recipient: recipient,
		Amount:    new(big.Int).Set(amount),
	}

	s.logger.Info("claim settled",
		zap.Uint64("index", index),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()),
	)

	return ev, nil
}

// SubscribeClaims delivers settled claims to ch until the subscription is
// unsubscribed. Delivery happens after state is committed and blocks the
// claiming call until every subscriber accepts; slow consumers should use a
// buffered channel.
func (s *SingleDistributor) SubscribeClaims(ch chan<- *types.ClaimedEvent) event.Subscription {
	return s.claimFeed.Subscribe(ch)
}
