package storage

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Store wraps a single Pebble database shared by every stateful component
// (orders, nonces, registry entries, token balances, event journal). Domain
// packages define their own key schemas and typed accessors on top of the
// generic Get/Set/Iter surface; multi-key mutations go through a Batch so an
// operation either commits every write or none of them.
type Store struct {
	db *pebble.DB

	mu     sync.Mutex
	evtSeq uint64 // next journal sequence number
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.loadEventSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns (value, found, error). The returned slice is a copy and safe
// to retain.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Set writes a single key durably.
func (s *Store) Set(key, val []byte) error {
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Delete removes a single key durably.
func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Iter scans all keys with the given prefix in lexicographic order.
// Returning an error from fn stops the scan.
func (s *Store) Iter(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Batch accumulates writes that commit atomically.
type Batch struct {
	b *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) Set(key, val []byte) error {
	return b.b.Set(key, val, nil)
}

func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// Commit writes the batch durably. On error nothing is applied.
func (b *Batch) Commit() error {
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.b.Close()
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan:
// the prefix with its last byte incremented.
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
