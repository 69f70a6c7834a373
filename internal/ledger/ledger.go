// Package ledger is the dividend ledger: token balances, payout offsets,
// referral balances and the global profit-per-share accumulator, read and
// written through one transaction per market operation.
//
// Dividends are settled lazily. Every token earns profitPerShare/Magnitude
// currency per unit since it was acquired, and each account's payout offset
// records what it has already been credited or paid, so
//
//	dividends(a) = max(0, profitPerShare*balance(a) - payout(a)) / Magnitude
//
// is O(1) regardless of the number of holders.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shizukutanaka/curvedex/internal/intmath"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNegativeAmount      = errors.New("ledger: negative amount")
	ErrTxDone              = errors.New("ledger: transaction already committed or discarded")
)

// Buckets.
const (
	BucketGlobal     = "global"
	BucketParams     = "params"
	BucketMeta       = "meta"
	BucketBalance    = "balance"
	BucketPayout     = "payout"
	BucketReferral   = "referral"
	BucketAdmin      = "admin"
	BucketAmbassador = "ambassador"
	BucketQuota      = "quota"
)

// Buckets lists every bucket the ledger writes.
func Buckets() []string {
	return []string{
		BucketGlobal, BucketParams, BucketMeta,
		BucketBalance, BucketPayout, BucketReferral,
		BucketAdmin, BucketAmbassador, BucketQuota,
	}
}

// Keys of the global, params and meta buckets.
const (
	keySupply             = "token_supply"
	keyProfitPerShare     = "profit_per_share"
	keyUnallocated        = "unallocated"
	keyTotalTaxed         = "total_taxed"
	keyStakingRequirement = "staking_requirement"

	keyDividendFee = "dividend_fee"
	keyInitial     = "token_price_initial"
	keyIncremental = "token_price_incremental"

	keyName       = "name"
	keySymbol     = "symbol"
	keyRestricted = "restricted"
	keyGenesis    = "genesis"
)

// Tx buffers every write of one operation and applies them with a single
// storage batch. Reads observe the transaction's own pending writes.
// A Tx is not safe for concurrent use.
type Tx struct {
	ctx   context.Context
	store storage.Store
	batch *storage.Batch
	done  bool
}

// Begin opens a transaction against store.
func Begin(ctx context.Context, store storage.Store) *Tx {
	return &Tx{ctx: ctx, store: store, batch: storage.NewBatch()}
}

// Commit applies the buffered writes atomically. Committing an empty
// transaction is a no-op.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	if tx.batch.Len() == 0 {
		return nil
	}
	if err := tx.store.Apply(tx.ctx, tx.batch); err != nil {
		return fmt.Errorf("commit ledger batch: %w", err)
	}
	return nil
}

// Discard drops the buffered writes.
func (tx *Tx) Discard() {
	tx.done = true
	tx.batch.Reset()
}

// Pending returns the number of keys written so far.
func (tx *Tx) Pending() int { return tx.batch.Len() }

func (tx *Tx) get(bucket, key string) ([]byte, bool, error) {
	if tx.done {
		return nil, false, ErrTxDone
	}
	if v, ok := tx.batch.Get(bucket, key); ok {
		return v, true, nil
	}
	v, err := tx.store.Get(tx.ctx, bucket, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return v, true, nil
}

func (tx *Tx) put(bucket, key string, value []byte) error {
	if tx.done {
		return ErrTxDone
	}
	tx.batch.Put(bucket, key, value)
	return nil
}

func (tx *Tx) getUint(bucket, key string) (*big.Int, error) {
	v, _, err := tx.get(bucket, key)
	if err != nil {
		return nil, err
	}
	n, err := intmath.DecodeUnsigned(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return n, nil
}

func (tx *Tx) getInt(bucket, key string) (*big.Int, error) {
	v, _, err := tx.get(bucket, key)
	if err != nil {
		return nil, err
	}
	n, err := intmath.DecodeSigned(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return n, nil
}

func (tx *Tx) getBool(bucket, key string) (bool, error) {
	v, _, err := tx.get(bucket, key)
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] == 1, nil
}

func (tx *Tx) getString(bucket, key string) (string, error) {
	v, _, err := tx.get(bucket, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (tx *Tx) putBool(bucket, key string, b bool) error {
	v := []byte{0}
	if b {
		v[0] = 1
	}
	return tx.put(bucket, key, v)
}

// write is one encoded value waiting to be staged.
type write struct {
	bucket, key string
	value       []byte
}

func unsignedWrite(bucket, key string, n *big.Int) (write, error) {
	v, err := intmath.EncodeUnsigned(n)
	if err != nil {
		return write{}, fmt.Errorf("%s/%s: %w", bucket, key, err)
	}
	return write{bucket, key, v}, nil
}

func signedWrite(bucket, key string, n *big.Int) (write, error) {
	v, err := intmath.EncodeSigned(n)
	if err != nil {
		return write{}, fmt.Errorf("%s/%s: %w", bucket, key, err)
	}
	return write{bucket, key, v}, nil
}

// stage buffers writes that have all been encoded, so a value that does not
// fit never leaves the transaction half updated.
func (tx *Tx) stage(writes ...write) error {
	for _, w := range writes {
		if err := tx.put(w.bucket, w.key, w.value); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) putUint(bucket, key string, n *big.Int) error {
	w, err := unsignedWrite(bucket, key, n)
	if err != nil {
		return err
	}
	return tx.stage(w)
}
