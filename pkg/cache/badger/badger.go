package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/fitpull/pkg/metrics"
)

// Store implements cache.Store on BadgerDB. Each entry is one fetched
// batch wrapped in an envelope carrying an xxhash checksum; entries
// that fail the checksum on read are treated as misses so the batch is
// simply re-fetched.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to the cache directory.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage (0 = 48 MB default).
	MaxMemoryMB int64
}

// New opens a badger-backed cache.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &Store{db: db}, nil
}

type envelope struct {
	Checksum uint64           `json:"checksum"`
	Records  []metrics.Record `json:"records"`
}

// Get returns the cached batch for key.
func (s *Store) Get(ctx context.Context, key string) ([]metrics.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, nil // unreadable entry, treat as miss
	}
	if checksum(env.Records) != env.Checksum {
		return nil, false, nil // corrupt entry, treat as miss
	}
	if env.Records == nil {
		env.Records = []metrics.Record{}
	}
	return env.Records, true, nil
}

// Put stores a batch under key.
func (s *Store) Put(ctx context.Context, key string, records []metrics.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if records == nil {
		records = []metrics.Record{}
	}
	raw, err := json.Marshal(envelope{Checksum: checksum(records), Records: records})
	if err != nil {
		return fmt.Errorf("cache marshal %q: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

// Close shuts the underlying database down.
func (s *Store) Close() error {
	return s.db.Close()
}

func checksum(records []metrics.Record) uint64 {
	d := xxhash.New()
	for _, r := range records {
		d.WriteString(r.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000"))
		d.WriteString(string(r.Kind))
		fmt.Fprintf(d, "%g", r.Value)
		d.WriteString(r.Label)
	}
	return d.Sum64()
}
