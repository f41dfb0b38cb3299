// Package runtime is the host ledger the factory program executes on: it serializes
// calls that write the same accounts, stages their writes and commits them atomically.
package runtime

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/observability"
	"hypertoken/internal/storage"
)

// Call describes one top-level instruction.
type Call struct {
	ProgramID   string
	Payer       string
	Writable    []string // accounts the call may create or modify
	Instruction types.Instruction
}

// Receipt is the outcome of a committed call.
type Receipt struct {
	Signature    string
	Slot         uint64
	BlockTime    int64 // ms
	Logs         []string
	Instructions []types.Instruction // top-level first, then inner in invocation order
	RentLamports uint64
	Events       []*domain.EventRecord
}

// Runtime executes calls against a LedgerStore.
type Runtime struct {
	store  storage.LedgerStore
	locks  *lockTable
	slot   atomic.Uint64
	now    func() time.Time
	logger logrus.FieldLogger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the block time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New creates a runtime, resuming the slot counter from the store.
func New(ctx context.Context, store storage.LedgerStore, logger logrus.FieldLogger, opts ...Option) (*Runtime, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := &Runtime{
		store:  store,
		locks:  newLockTable(),
		now:    time.Now,
		logger: logger.WithField("component", "runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}

	slot, err := store.LatestSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest slot: %w", err)
	}
	r.slot.Store(slot)

	return r, nil
}

// Execute runs fn inside a transaction holding write locks on call.Writable.
// If fn or the commit fails no state changes and no receipt is produced.
func (r *Runtime) Execute(ctx context.Context, call Call, fn func(tx *Tx) error) (*Receipt, error) {
	if call.Payer == "" {
		return nil, ErrMissingPayer
	}

	start := time.Now()

	release, err := r.locks.acquire(ctx, call.Writable)
	if err != nil {
		return nil, fmt.Errorf("acquire account locks: %w", err)
	}
	defer release()

	signature, err := newSignature()
	if err != nil {
		return nil, err
	}

	tx := &Tx{
		ctx:           ctx,
		store:         r.store,
		signature:     signature,
		slot:          r.slot.Add(1),
		blockTime:     r.now().UnixMilli(),
		payer:         call.Payer,
		programID:     call.ProgramID,
		writable:      make(map[string]bool, len(call.Writable)),
		factories:     newOverlay[domain.TokenFactory](),
		mints:         newOverlay[domain.Mint](),
		tokenAccounts: newOverlay[domain.TokenAccount](),
	}
	for _, addr := range call.Writable {
		tx.writable[addr] = true
	}

	logger := r.logger.WithFields(logrus.Fields{
		"signature": signature,
		"slot":      tx.slot,
		"payer":     call.Payer,
	})

	if err := tx.Invoke(call.Instruction, func() error { return fn(tx) }); err != nil {
		observability.RecordTransaction("failed", time.Since(start).Seconds())
		logger.WithError(err).Debug("transaction failed")
		return nil, err
	}

	if err := r.store.Commit(ctx, tx.changeSet()); err != nil {
		observability.RecordTransaction("commit_failed", time.Since(start).Seconds())
		switch {
		case storage.IsDuplicateKey(err):
			return nil, fmt.Errorf("%w: commit: %v", ErrAccountInUse, err)
		case storage.IsNotFound(err):
			return nil, fmt.Errorf("%w: commit: %v", ErrAccountNotFound, err)
		default:
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
	}

	observability.RecordTransaction("committed", time.Since(start).Seconds())
	observability.UpdateCommittedSlot(tx.slot)
	logger.WithField("events", len(tx.events)).Debug("transaction committed")

	return &Receipt{
		Signature:    tx.signature,
		Slot:         tx.slot,
		BlockTime:    tx.blockTime,
		Logs:         tx.logs,
		Instructions: tx.instructions,
		RentLamports: tx.rent,
		Events:       tx.events,
	}, nil
}

// LatestSlot returns the last slot handed out.
func (r *Runtime) LatestSlot() uint64 {
	return r.slot.Load()
}

func newSignature() (string, error) {
	var b [64]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate signature: %w", err)
	}
	return base58.Encode(b[:]), nil
}
