// Package backup writes and restores portable ledger snapshots. A snapshot
// is a zstd-compressed stream of JSON lines: a header, one line per stored
// key, and a trailer carrying the entry count and an xxhash64 of every entry.
// Snapshots do not depend on the storage engine, so they also move a ledger
// between bolt, sqlite and postgres.
package backup

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/shizukutanaka/curvedex/internal/ledger"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

const (
	formatName    = "curvedex-ledger"
	formatVersion = 1
)

var (
	ErrCorrupt  = errors.New("backup: corrupt snapshot")
	ErrNotEmpty = errors.New("backup: target store already holds a market")
)

// Manifest summarises a snapshot.
type Manifest struct {
	Created  time.Time      `json:"created"`
	Entries  int            `json:"entries"`
	Buckets  map[string]int `json:"buckets"`
	Checksum uint64         `json:"checksum"`
}

type header struct {
	Format  string    `json:"format"`
	Version int       `json:"version"`
	Created time.Time `json:"created"`
}

// entry is a key line, or the trailer when End is set.
type entry struct {
	Bucket string `json:"b,omitempty"`
	Key    string `json:"k,omitempty"`
	Value  []byte `json:"v,omitempty"`

	End      bool   `json:"end,omitempty"`
	Entries  int    `json:"entries,omitempty"`
	Checksum uint64 `json:"checksum,omitempty"`
}

// digest hashes each entry length-prefixed so that bucket/key boundaries
// cannot shift between entries.
type digest struct{ *xxhash.Digest }

func (d digest) add(bucket, key string, value []byte) {
	var n [4]byte
	for _, part := range [][]byte{[]byte(bucket), []byte(key), value} {
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		_, _ = d.Write(n[:])
		_, _ = d.Write(part)
	}
}

// Export writes every ledger bucket of store to w. The caller must keep the
// store quiescent for the duration; see dex.Market.Snapshot.
func Export(ctx context.Context, store storage.Store, w io.Writer) (*Manifest, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(zw)

	m := &Manifest{Created: time.Now().UTC(), Buckets: make(map[string]int)}
	if err := enc.Encode(header{Format: formatName, Version: formatVersion, Created: m.Created}); err != nil {
		zw.Close()
		return nil, err
	}

	sum := digest{xxhash.New()}
	for _, bucket := range ledger.Buckets() {
		err := store.Scan(ctx, bucket, func(key string, value []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum.add(bucket, key, value)
			m.Entries++
			m.Buckets[bucket]++
			return enc.Encode(entry{Bucket: bucket, Key: key, Value: value})
		})
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("export %s: %w", bucket, err)
		}
	}

	m.Checksum = sum.Sum64()
	if err := enc.Encode(entry{End: true, Entries: m.Entries, Checksum: m.Checksum}); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return m, nil
}

// Read decodes and verifies a snapshot, calling fn for every entry. Nothing
// is reported valid until the trailer has been checked, so callers must not
// act on the entries before Read returns nil.
func Read(r io.Reader, fn func(bucket, key string, value []byte) error) (*Manifest, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	dec := json.NewDecoder(zr)

	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Format != formatName {
		return nil, fmt.Errorf("%w: not a ledger snapshot", ErrCorrupt)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}

	m := &Manifest{Created: h.Created, Buckets: make(map[string]int)}
	sum := digest{xxhash.New()}
	for {
		var e entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: missing trailer", ErrCorrupt)
			}
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if e.End {
			if e.Entries != m.Entries || e.Checksum != sum.Sum64() {
				return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
			}
			m.Checksum = e.Checksum
			return m, nil
		}
		if e.Bucket == "" || e.Key == "" {
			return nil, fmt.Errorf("%w: entry without bucket or key", ErrCorrupt)
		}

		sum.add(e.Bucket, e.Key, e.Value)
		m.Entries++
		m.Buckets[e.Bucket]++
		if err := fn(e.Bucket, e.Key, e.Value); err != nil {
			return nil, err
		}
	}
}

// Restore loads a snapshot into store in one atomic batch. The store must
// not already hold a market.
func Restore(ctx context.Context, store storage.Store, r io.Reader) (*Manifest, error) {
	tx := ledger.Begin(ctx, store)
	initialized, err := tx.Initialized()
	tx.Discard()
	if err != nil {
		return nil, err
	}
	if initialized {
		return nil, ErrNotEmpty
	}

	batch := storage.NewBatch()
	m, err := Read(r, func(bucket, key string, value []byte) error {
		batch.Put(bucket, key, value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := store.Apply(ctx, batch); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return m, nil
}
