// Package storage defines the key/value seam the ledger persists through and
// the engines that implement it. Values are opaque byte strings grouped in
// named buckets; every mutation arrives as a Batch that must land atomically.
package storage

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store closed")
)

// Store is a bucketed key/value store with atomic batch application.
type Store interface {
	// Get returns the value stored under bucket/key or ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Scan visits every key of bucket in ascending order.
	Scan(ctx context.Context, bucket string, fn func(key string, value []byte) error) error
	// Apply writes every entry of batch or none of them.
	Apply(ctx context.Context, batch *Batch) error
	Close() error
}

// Batch is an ordered set of pending writes. Later puts to the same key
// replace earlier ones.
type Batch struct {
	writes map[string]map[string][]byte
	size   int
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{writes: make(map[string]map[string][]byte)}
}

// Put records value under bucket/key. The value is copied.
func (b *Batch) Put(bucket, key string, value []byte) {
	keys, ok := b.writes[bucket]
	if !ok {
		keys = make(map[string][]byte)
		b.writes[bucket] = keys
	}
	if _, exists := keys[key]; !exists {
		b.size++
	}
	keys[key] = append([]byte(nil), value...)
}

// Get returns the pending value for bucket/key, if any.
func (b *Batch) Get(bucket, key string) ([]byte, bool) {
	v, ok := b.writes[bucket][key]
	return v, ok
}

// Len returns the number of distinct keys in the batch.
func (b *Batch) Len() int { return b.size }

// ForEach visits every pending write sorted by bucket, then key.
func (b *Batch) ForEach(fn func(bucket, key string, value []byte) error) error {
	buckets := make([]string, 0, len(b.writes))
	for name := range b.writes {
		buckets = append(buckets, name)
	}
	sort.Strings(buckets)

	for _, bucket := range buckets {
		keys := make([]string, 0, len(b.writes[bucket]))
		for k := range b.writes[bucket] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := fn(bucket, k, b.writes[bucket][k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset drops all pending writes.
func (b *Batch) Reset() {
	b.writes = make(map[string]map[string][]byte)
	b.size = 0
}
