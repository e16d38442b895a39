// Package distributor implements merkle-proof-gated token distribution: a
// multi-campaign registry holding custodial balances per campaign, and a
// minimal single-campaign variant. Claims verify an inclusion proof against
// the campaign's committed root, consume a bit in a packed claim bitmap and
// transfer the entitled amount, as one all-or-nothing operation.
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
	"github.com/dropforge/merkledrop-go/pkg/persistence"
	"github.com/dropforge/merkledrop-go/pkg/persistence/memory"
	"github.com/dropforge/merkledrop-go/pkg/token"
	"github.com/dropforge/merkledrop-go/pkg/types"
)

// TokenResolver maps a stored token address back to a live token handle when
// the registry rehydrates campaigns from a durable store.
type TokenResolver func(common.Address) (token.Token, error)

// Config configures a Registry. Only Address is required.
type Config struct {
	// Address is the registry's custodial identity: deposits are pulled to it
	// and claims are paid out of it.
	Address common.Address

	// Persistence backs campaign records and claim bitmaps. Defaults to the
	// in-memory store.
	Persistence persistence.IDistributorPersistence

	// TokenResolver restores token handles for campaigns found in a durable
	// store at startup. Without it, preexisting campaigns stay queryable but
	// cannot be claimed against.
	TokenResolver TokenResolver

	// Logger is optional; a nop logger is used if nil.
	Logger *zap.Logger
}

// Registry manages concurrently live distribution campaigns. Each campaign
// has its own root, its own claim bitmap namespace and its own remaining
// balance; campaigns sharing a token never satisfy each other's claims.
//
// Every operation runs to completion under one mutex, so a claim's bitmap
// check, balance check and mutations are atomic relative to any other claim.
type Registry struct {
	mu      sync.Mutex
	address common.Address
	store   persistence.IDistributorPersistence
	logger  *zap.Logger
	tokens  map[uint64]token.Token

	claimFeed event.Feed
}

// NewRegistry creates a registry and rehydrates any campaigns already in the
// configured store.
func NewRegistry(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("registry address cannot be zero")
	}

	store := cfg.Persistence
	if store == nil {
		store = memory.NewMemoryPersistence()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry{
		address: cfg.Address,
		store:   store,
		logger:  log,
		tokens:  make(map[uint64]token.Token),
	}

	existing, err := store.ListDistributions()
	if err != nil {
		return nil, errors.Wrap(err, "loading stored distributions")
	}
	for _, d := range existing {
		if cfg.TokenResolver == nil {
			log.Warn("no token resolver; stored distribution is query-only",
				zap.Uint64("distributionId", d.ID))
			continue
		}
		tok, err := cfg.TokenResolver(d.Token)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving token %s for distribution %d", d.Token.Hex(), d.ID)
		}
		r.tokens[d.ID] = tok
	}

	return r, nil
}

// Address returns the registry's custodial address.
func (r *Registry) Address() common.Address {
	return r.address
}

// AddDistribution creates a new campaign. It pulls amount tokens from
// creator into registry custody (creator must have pre-authorized at least
// that much), assigns the next campaign id and stores the campaign record.
// leafCount is the size of the committed entitlement tree; it bounds claim
// indices and drives proof verification.
//
// A failed deposit aborts the whole operation with no partial state.
func (r *Registry) AddDistribution(creator common.Address, tok token.Token, root common.Hash, amount *big.Int, leafCount uint64) (uint64, error) {
	if tok == nil {
		return 0, fmt.Errorf("token handle cannot be nil")
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("deposit amount must be positive")
	}
	if leafCount == 0 {
		return 0, fmt.Errorf("leaf count cannot be zero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := tok.TransferFrom(creator, r.address, amount)
	if err != nil {
		return 0, errors.Wrap(ErrTransferFailed, err.Error())
	}
	if !ok {
		return 0, errors.Wrap(ErrTransferFailed, "deposit transferFrom returned false")
	}

	id, err := r.store.NextDistributionID()
	if err != nil {
		r.refund(tok, creator, amount)
		return 0, errors.Wrap(err, "assigning distribution id")
	}

	d := &types.Distribution{
		ID:              id,
		Token:           tok.Address(),
		MerkleRoot:      root,
		LeafCount:       leafCount,
		RemainingAmount: new(big.Int).Set(amount),
	}
	if err := r.store.SaveDistribution(d); err != nil {
		r.refund(tok, creator, amount)
		return 0, errors.Wrapf(err, "storing distribution %d", id)
	}

	r.tokens[id] = tok

	r.logger.Info("distribution added",
		zap.Uint64("distributionId", id),
		zap.String("token", d.Token.Hex()),
		zap.String("merkleRoot", root.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("leafCount", leafCount),
	)

	return id, nil
}

// refund returns a pulled deposit after a post-deposit failure. Best effort:
// a refund failure is logged, not surfaced over the original error.
func (r *Registry) refund(tok token.Token, creator common.Address, amount *big.Int) {
	ok, err := tok.Transfer(creator, amount)
	if err != nil || !ok {
		r.logger.Error("deposit refund failed",
			zap.String("creator", creator.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
	}
}

// Claim redeems an address-keyed entitlement. Tokens go to the entitled
// account itself.
func (r *Registry) Claim(distributionID, index uint64, account common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("claim amount must be positive")
	}
	leaf := merkle.AddressLeaf(index, account, amount)
	return r.claim(distributionID, index, leaf, account, amount, proof)
}

// ClaimForIdentifier redeems a string-keyed entitlement. Only the identifier
// hash travels here; the recipient is the claimant's own address, since
// string identifiers are off-chain handles rather than payable addresses.
func (r *Registry) ClaimForIdentifier(distributionID, index uint64, identifierHash common.Hash, recipient common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("claim amount must be positive")
	}
	leaf := merkle.IdentifierLeaf(index, identifierHash, amount)
	return r.claim(distributionID, index, leaf, recipient, amount, proof)
}

// claim runs the shared redemption sequence and publishes the event after
// settlement. The feed delivery happens outside the registry lock so a slow
// subscriber cannot stall claims.
func (r *Registry) claim(distributionID, index uint64, leaf [32]byte, recipient common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	ev, err := r.settle(distributionID, index, leaf, recipient, amount, proof)
	if err != nil {
		return nil, err
	}

	r.claimFeed.Send(ev)
	return ev, nil
}

// settle holds the lock for the whole redemption sequence. Check order is
// significant: bitmap, then balance, then the cryptographic check; all state
// is committed before the external transfer, and rolled back if the transfer
// fails.
func (r *Registry) settle(distributionID, index uint64, leaf [32]byte, recipient common.Address, amount *big.Int, proof []common.Hash) (*types.ClaimedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.store.LoadDistribution(distributionID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading distribution %d", distributionID)
	}
	if d == nil {
		return nil, errors.Wrapf(ErrUnknownDistribution, "id %d", distributionID)
	}

	wordIndex, mask := claimSlot(index)
	word, err := r.store.LoadClaimWord(distributionID, wordIndex)
	if err != nil {
		return nil, errors.Wrap(err, "loading claim word")
	}
	if bitSet(word, mask) {
		return nil, errors.Wrapf(ErrAlreadyClaimed, "distribution %d index %d", distributionID, index)
	}

	if amount.Cmp(d.RemainingAmount) > 0 {
		return nil, errors.Wrapf(ErrInsufficientRemaining, "want %s, have %s", amount, d.RemainingAmount)
	}

	if !merkle.VerifyProof(index, d.LeafCount, leaf, proofDigests(proof), [32]byte(d.MerkleRoot)) {
		return nil, errors.Wrapf(ErrInvalidProof, "distribution %d index %d", distributionID, index)
	}

	tok := r.tokens[distributionID]
	if tok == nil {
		return nil, fmt.Errorf("no token handle for distribution %d", distributionID)
	}

	// Commit state before the external transfer so nothing observing the
	// registry mid-claim can see a payout whose bit is still unset.
	newWord := new(uint256.Int).Or(word, mask)
	if err := r.store.SaveClaimWord(distributionID, wordIndex, newWord); err != nil {
		return nil, errors.Wrap(err, "storing claim word")
	}

	previousRemaining := new(big.Int).Set(d.RemainingAmount)
	d.RemainingAmount.Sub(d.RemainingAmount, amount)
	if err := r.store.SaveDistribution(d); err != nil {
		if rbErr := r.store.SaveClaimWord(distributionID, wordIndex, word); rbErr != nil {
			return nil, errors.Wrapf(err, "storing distribution (claim-word rollback also failed: %v)", rbErr)
		}
		return nil, errors.Wrapf(err, "storing distribution %d", distributionID)
	}

	ok, err := tok.Transfer(recipient, amount)
	if err != nil || !ok {
		// The claim must leave no observable state change.
		if rbErr := r.rollback(distributionID, wordIndex, word, d, previousRemaining); rbErr != nil {
			return nil, errors.Wrapf(ErrTransferFailed, "rollback also failed: %v", rbErr)
		}
		if err != nil {
			return nil, errors.Wrap(ErrTransferFailed, err.Error())
		}
		return nil, errors.Wrap(ErrTransferFailed, "transfer returned false")
	}

	ev := &types.ClaimedEvent{
		DistributionID: distributionID,
		Index:          index,
		Recipient:      recipient,
		Amount:         new(big.Int).Set(amount),
	}

	r.logger.Info("claim settled",
		zap.Uint64("distributionId", distributionID),
		zap.Uint64("index", index),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()),
	)

	return ev, nil
}

// rollback restores the claim word and remaining balance after a failed
// transfer.
func (r *Registry) rollback(distributionID, wordIndex uint64, word *uint256.Int, d *types.Distribution, previousRemaining *big.Int) error {
	if err := r.store.SaveClaimWord(distributionID, wordIndex, word); err != nil {
		return err
	}
	d.RemainingAmount.Set(previousRemaining)
	return r.store.SaveDistribution(d)
}

// IsClaimed reports whether the (campaign, index) entitlement has been
// consumed.
func (r *Registry) IsClaimed(distributionID, index uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wordIndex, mask := claimSlot(index)
	word, err := r.store.LoadClaimWord(distributionID, wordIndex)
	if err != nil {
		return false, errors.Wrap(err, "loading claim word")
	}
	return bitSet(word, mask), nil
}

// GetDistribution returns the campaign record. Exhausted campaigns remain
// queryable indefinitely.
func (r *Registry) GetDistribution(distributionID uint64) (*types.Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.store.LoadDistribution(distributionID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading distribution %d", distributionID)
	}
	if d == nil {
		return nil, errors.Wrapf(ErrUnknownDistribution, "id %d", distributionID)
	}
	return d, nil
}

// ListDistributions returns all campaign records sorted by id.
func (r *Registry) ListDistributions() ([]*types.Distribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.ListDistributions()
}

// SubscribeClaims delivers settled claims to ch until the subscription is
// unsubscribed. Delivery happens after state is committed and blocks the
// claiming call until every subscriber accepts; slow consumers should use a
// buffered channel.
func (r *Registry) SubscribeClaims(ch chan<- *types.ClaimedEvent) event.Subscription {
	return r.claimFeed.Subscribe(ch)
}

func proofDigests(proof []common.Hash) [][32]byte {
	out := make([][32]byte, len(proof))
	for i, h := range proof {
		out[i] = h
	}
	return out
}
