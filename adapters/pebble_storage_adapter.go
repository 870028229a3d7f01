package adapters

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStorageAdapter stores blobs in an embedded Pebble database. Keys are
// prefixed so several SDK instances can share one database.
type PebbleStorageAdapter struct {
	mu     sync.RWMutex
	closed bool
	db     *pebble.DB
	prefix string
	sync   bool
	owned  bool
}

var _ StorageAdapter = (*PebbleStorageAdapter)(nil)

// PebbleOptions configures a PebbleStorageAdapter.
type PebbleOptions struct {
	// Dir is the Pebble data directory. Ignored when DB is set.
	Dir string
	// DB is an already open database to share. The adapter does not close it.
	DB *pebble.DB
	// Prefix namespaces every key, e.g. "pulse/<app_key>/".
	Prefix string
	// NoSync skips the WAL fsync on each write.
	NoSync bool
}

// NewPebbleStorageAdapter opens (or reuses) a Pebble database.
func NewPebbleStorageAdapter(opts PebbleOptions) (*PebbleStorageAdapter, error) {
	db := opts.DB
	owned := false
	if db == nil {
		if opts.Dir == "" {
			return nil, errors.New("pebble: Dir or DB is required")
		}
		var err error
		db, err = pebble.Open(opts.Dir, &pebble.Options{})
		if err != nil {
			return nil, fmt.Errorf("pebble open: %w", err)
		}
		owned = true
	}
	return &PebbleStorageAdapter{
		db:     db,
		prefix: opts.Prefix,
		sync:   !opts.NoSync,
		owned:  owned,
	}, nil
}

func (p *PebbleStorageAdapter) key(key string) []byte {
	return []byte(p.prefix + key)
}

func (p *PebbleStorageAdapter) writeOptions() *pebble.WriteOptions {
	if p.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Get returns a copy of the value stored under key.
func (p *PebbleStorageAdapter) Get(key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, pebble.ErrClosed
	}
	value, closer, err := p.db.Get(p.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set writes value under key. Writes after Close return pebble.ErrClosed.
func (p *PebbleStorageAdapter) Set(key string, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return pebble.ErrClosed
	}
	return p.db.Set(p.key(key), value, p.writeOptions())
}

// Delete removes key.
func (p *PebbleStorageAdapter) Delete(key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return pebble.ErrClosed
	}
	return p.db.Delete(p.key(key), p.writeOptions())
}

// Close closes the database if the adapter opened it. The adapter rejects
// further calls either way.
func (p *PebbleStorageAdapter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.owned || p.db == nil {
		return nil
	}
	return p.db.Close()
}
