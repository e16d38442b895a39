package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/dropforge/merkledrop-go/pkg/persistence"
	"github.com/dropforge/merkledrop-go/pkg/types"
)

// Key prefixes for namespacing
const (
	keyPrefixDistribution = "distribution:"
	keyPrefixClaimWord    = "claimword:"
	keyNextDistributionID = "metadata:next_distribution_id"
	keySchemaVersion      = "metadata:schema_version"
	currentSchemaVersion  = "v1"
)

// BadgerPersistence is a durable, disk-based implementation of
// IDistributorPersistence with ACID guarantees. Suitable for a registry
// holding custodial state across restarts.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for
// durability. A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &dbLog{log: logger}
	opts.SyncWrites = true // Ensure durability (fsync on every write)
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1 // We don't need versioning within Badger

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return err
		}
		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("schema version mismatch: have %s, want %s", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs Badger value-log garbage collection periodically.
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Rerun while it keeps reclaiming space
			for {
				if err := b.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

func distributionKey(id uint64) []byte {
	key := make([]byte, len(keyPrefixDistribution)+8)
	copy(key, keyPrefixDistribution)
	binary.BigEndian.PutUint64(key[len(keyPrefixDistribution):], id)
	return key
}

func claimWordKey(distributionID, wordIndex uint64) []byte {
	key := make([]byte, len(keyPrefixClaimWord)+16)
	copy(key, keyPrefixClaimWord)
	binary.BigEndian.PutUint64(key[len(keyPrefixClaimWord):], distributionID)
	binary.BigEndian.PutUint64(key[len(keyPrefixClaimWord)+8:], wordIndex)
	return key
}

// NextDistributionID reserves the next campaign id, starting at 1.
// The counter survives restarts; ids are never reused.
func (b *BadgerPersistence) NextDistributionID() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("persistence layer is closed")
	}

	var next uint64
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyNextDistributionID))
		switch {
		case err == badgerdb.ErrKeyNotFound:
			next = 1
		case err != nil:
			return fmt.Errorf("failed to read id counter: %w", err)
		default:
			err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt id counter (%d bytes)", len(val))
				}
				next = binary.BigEndian.Uint64(val) + 1
				return nil
			})
			if err != nil {
				return err
			}
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, next)
		return txn.Set([]byte(keyNextDistributionID), buf)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// SaveDistribution persists a campaign record.
func (b *BadgerPersistence) SaveDistribution(d *types.Distribution) error {
	if d == nil {
		return fmt.Errorf("cannot save nil distribution")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to serialize distribution %d: %w", d.ID, err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(distributionKey(d.ID), data)
	})
}

// LoadDistribution retrieves a campaign record by id; nil when absent.
func (b *BadgerPersistence) LoadDistribution(id uint64) (*types.Distribution, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	var d *types.Distribution
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(distributionKey(id))
		if err == badgerdb.ErrKeyNotFound {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			d = &types.Distribution{}
			return json.Unmarshal(val, d)
		})
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDistributions returns all campaign records sorted by id. The 8-byte
// big-endian key suffix makes key order equal id order.
func (b *BadgerPersistence) ListDistributions() ([]*types.Distribution, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*types.Distribution, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixDistribution)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				d := &types.Distribution{}
				if err := json.Unmarshal(val, d); err != nil {
					return err
				}
				result = append(result, d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LoadClaimWord retrieves a claim word; missing words read as zero.
func (b *BadgerPersistence) LoadClaimWord(distributionID, wordIndex uint64) (*uint256.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	word := uint256.NewInt(0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(claimWordKey(distributionID, wordIndex))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 32 {
				return fmt.Errorf("corrupt claim word (%d bytes)", len(val))
			}
			word.SetBytes(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return word, nil
}

// SaveClaimWord persists a claim word.
func (b *BadgerPersistence) SaveClaimWord(distributionID, wordIndex uint64, word *uint256.Int) error {
	if word == nil {
		return fmt.Errorf("cannot save nil claim word")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	value := word.Bytes32()
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(claimWordKey(distributionID, wordIndex), value[:])
	})
}

// Close stops the GC goroutine and closes the database.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	b.gcCancel()
	b.gcWg.Wait()

	return b.db.Close()
}

var _ persistence.IDistributorPersistence = (*BadgerPersistence)(nil)
