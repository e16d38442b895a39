package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropforge/merkledrop-go/pkg/persistence"
	"github.com/dropforge/merkledrop-go/pkg/types"
)

// Key suffixes for namespacing in Redis
const (
	keyDistribution      = "drop:distribution:"
	keyDistributionIndex = "drop:distributions:index"
	keyIDCounter         = "drop:distribution:counter"
	keyClaimWord         = "drop:claimword:"
	keySchemaVersion     = "drop:metadata:schema_version"
	currentSchemaVersion = "v1"

	opTimeout = 5 * time.Second
)

// RedisPersistence is a Redis-backed implementation of
// IDistributorPersistence. Suitable when several read-side consumers
// (claim status dashboards, indexers) share the registry's state.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is an optional custom prefix for all keys (for multi-tenant
	// setups). If set it is prepended to every key, e.g. "myapp:" yields
	// keys like "myapp:drop:distribution:1".
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB)

	return rp, nil
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	existing, err := r.client.Get(ctx, r.key(keySchemaVersion)).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, r.key(keySchemaVersion), currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existing != currentSchemaVersion {
		return fmt.Errorf("schema version mismatch: have %s, want %s", existing, currentSchemaVersion)
	}
	return nil
}

func (r *RedisPersistence) key(suffix string) string {
	return r.keyPrefix + suffix
}

func (r *RedisPersistence) distributionKey(id uint64) string {
	return r.key(keyDistribution + strconv.FormatUint(id, 10))
}

func (r *RedisPersistence) claimWordKey(distributionID, wordIndex uint64) string {
	return r.key(keyClaimWord + strconv.FormatUint(distributionID, 10) + ":" + strconv.FormatUint(wordIndex, 10))
}

func (r *RedisPersistence) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// NextDistributionID reserves the next campaign id via INCR, starting at 1.
func (r *RedisPersistence) NextDistributionID() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return 0, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	id, err := r.client.Incr(ctx, r.key(keyIDCounter)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment id counter: %w", err)
	}
	return uint64(id), nil
}

// SaveDistribution persists a campaign record and registers it in the index
// set used for listing.
func (r *RedisPersistence) SaveDistribution(d *types.Distribution) error {
	if d == nil {
		return fmt.Errorf("cannot save nil distribution")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to serialize distribution %d: %w", d.ID, err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.distributionKey(d.ID), data, 0)
	pipe.SAdd(ctx, r.key(keyDistributionIndex), strconv.FormatUint(d.ID, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save distribution %d: %w", d.ID, err)
	}
	return nil
}

// LoadDistribution retrieves a campaign record by id; nil when absent.
func (r *RedisPersistence) LoadDistribution(id uint64) (*types.Distribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	data, err := r.client.Get(ctx, r.distributionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load distribution %d: %w", id, err)
	}

	d := &types.Distribution{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to deserialize distribution %d: %w", id, err)
	}
	return d, nil
}

// ListDistributions returns all campaign records sorted by id.
func (r *RedisPersistence) ListDistributions() ([]*types.Distribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	members, err := r.client.SMembers(ctx, r.key(keyDistributionIndex)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution index: %w", err)
	}

	ids := make([]uint64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt distribution index entry %q: %w", member, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]*types.Distribution, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.distributionKey(id)).Bytes()
		if err == redis.Nil {
			continue // Index may briefly lead the record
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load distribution %d: %w", id, err)
		}
		d := &types.Distribution{}
		if err := json.Unmarshal(data, d); err != nil {
			return nil, fmt.Errorf("failed to deserialize distribution %d: %w", id, err)
		}
		result = append(result, d)
	}
	return result, nil
}

// LoadClaimWord retrieves a claim word; missing words read as zero.
func (r *RedisPersistence) LoadClaimWord(distributionID, wordIndex uint64) (*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	data, err := r.client.Get(ctx, r.claimWordKey(distributionID, wordIndex)).Bytes()
	if err == redis.Nil {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load claim word: %w", err)
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("corrupt claim word (%d bytes)", len(data))
	}
	return new(uint256.Int).SetBytes(data), nil
}

// SaveClaimWord persists a claim word.
func (r *RedisPersistence) SaveClaimWord(distributionID, wordIndex uint64, word *uint256.Int) error {
	if word == nil {
		return fmt.Errorf("cannot save nil claim word")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	value := word.Bytes32()
	if err := r.client.Set(ctx, r.claimWordKey(distributionID, wordIndex), value[:], 0).Err(); err != nil {
		return fmt.Errorf("failed to save claim word: %w", err)
	}
	return nil
}

// Close shuts down the Redis client.
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

var _ persistence.IDistributorPersistence = (*RedisPersistence)(nil)
