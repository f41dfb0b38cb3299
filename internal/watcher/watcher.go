// Package watcher indexes factory events from a cluster's program logs.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/eventbus"
	"hypertoken/internal/idhash"
	"hypertoken/internal/observability"
	"hypertoken/internal/solana"
	"hypertoken/internal/storage"
)

// Ingestion results reported to metrics.
const (
	resultStored    = "stored"
	resultDuplicate = "duplicate"
	resultFailed    = "failed"
)

// Stats counts what the watcher has processed since start.
type Stats struct {
	Notifications int
	Skipped       int // failed transactions
	Stored        int
	Duplicates    int
	DecodeErrors  int
	HighestSlot   int64
}

// Options configures a Watcher.
type Options struct {
	Subscriber solana.LogsSubscriber
	ProgramID  string
	Events     storage.EventStore
	Publisher  eventbus.Publisher // optional
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// Watcher subscribes to the factory program's logs and persists its events.
type Watcher struct {
	subscriber solana.LogsSubscriber
	programID  string
	parser     *LogParser
	events     storage.EventStore
	publisher  eventbus.Publisher
	logger     *logrus.Entry
	now        func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a watcher.
func New(opts Options) (*Watcher, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("watcher: subscriber is required")
	}
	if opts.ProgramID == "" {
		return nil, errors.New("watcher: program id is required")
	}
	if opts.Events == nil {
		return nil, errors.New("watcher: event store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Watcher{
		subscriber: opts.Subscriber,
		programID:  opts.ProgramID,
		parser:     NewLogParser(opts.ProgramID),
		events:     opts.Events,
		publisher:  opts.Publisher,
		logger:     logger.WithField("component", "watcher"),
		now:        now,
	}, nil
}

// Run subscribes and processes notifications until ctx is cancelled or the
// subscription channel closes.
func (w *Watcher) Run(ctx context.Context) error {
	notifications, err := w.subscriber.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions: []string{w.programID},
	})
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	w.logger.WithField("program_id", w.programID).Info("watching program logs")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return errors.New("watcher: subscription closed")
			}
			if _, err := w.Handle(ctx, n); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.WithError(err).WithField("signature", n.Signature).Error("failed to ingest transaction")
			}
		}
	}
}

// Handle ingests one notification and returns the newly stored events.
// Events already in the store are skipped, so replays are idempotent.
func (w *Watcher) Handle(ctx context.Context, n solana.LogNotification) ([]*domain.EventRecord, error) {
	w.count(func(s *Stats) {
		s.Notifications++
		if n.Slot > s.HighestSlot {
			s.HighestSlot = n.Slot
			observability.UpdateHighestSlot(n.Slot)
		}
	})
	observability.RecordNotification()

	if n.Failed() {
		w.count(func(s *Stats) { s.Skipped++ })
		return nil, nil
	}

	parsed, decodeErrs := w.parser.Parse(n.Logs)
	for _, err := range decodeErrs {
		w.count(func(s *Stats) { s.DecodeErrors++ })
		observability.RecordDecodeError()
		w.logger.WithError(err).WithField("signature", n.Signature).Warn("undecodable program data")
	}

	blockTime := w.now().UnixMilli()
	if n.BlockTime != nil {
		blockTime = *n.BlockTime * 1000
	}
	slot := uint64(0)
	if n.Slot > 0 {
		slot = uint64(n.Slot)
	}

	var stored []*domain.EventRecord
	for _, p := range parsed {
		rec := domain.NewEventRecord(p.Event, n.Signature, slot, p.Index, blockTime)
		rec.ID = idhash.ComputeEventID(n.Signature, p.Index)

		err := w.events.Insert(ctx, rec)
		switch {
		case err == nil:
			w.count(func(s *Stats) { s.Stored++ })
			observability.RecordEventIngested(rec.Kind.String(), resultStored)
			stored = append(stored, rec)
		case storage.IsDuplicateKey(err):
			w.count(func(s *Stats) { s.Duplicates++ })
			observability.RecordEventIngested(rec.Kind.String(), resultDuplicate)
		default:
			observability.RecordEventIngested(rec.Kind.String(), resultFailed)
			return stored, fmt.Errorf("store event %s: %w", rec.ID, err)
		}
	}

	if len(stored) > 0 {
		w.logger.WithFields(logrus.Fields{
			"signature": n.Signature,
			"slot":      n.Slot,
			"events":    len(stored),
		}).Info("ingested factory events")

		if w.publisher != nil {
			if err := w.publisher.Publish(ctx, stored); err != nil {
				w.logger.WithError(err).Warn("publish ingested events")
			}
		}
	}

	return stored, nil
}

// Stats returns processing counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) count(fn func(*Stats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}
