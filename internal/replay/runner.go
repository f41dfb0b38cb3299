// Package replay re-publishes the persisted event log to downstream sinks, for example to
// rebuild ClickHouse analytics or refill a Kafka topic after an outage.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/eventbus"
	"hypertoken/internal/storage"
)

// DefaultWindow is the number of slots loaded per batch.
const DefaultWindow uint64 = 10_000

// Result summarizes a replay run.
type Result struct {
	FromSlot        uint64
	ToSlot          uint64
	Batches         int
	Events          int
	TokensCreated   int
	MetadataUpdates int
	Authorities     []string // distinct authorities seen, sorted
	Duration        time.Duration
}

// Runner loads events from storage in slot windows and publishes them in log order.
type Runner struct {
	events    storage.EventStore
	ledger    storage.LedgerStore
	publisher eventbus.Publisher
	window    uint64
	logger    logrus.FieldLogger
}

// NewRunner creates a replay runner. ledger supplies the default end slot.
func NewRunner(events storage.EventStore, ledger storage.LedgerStore, publisher eventbus.Publisher, logger logrus.FieldLogger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		events:    events,
		ledger:    ledger,
		publisher: publisher,
		window:    DefaultWindow,
		logger:    logger,
	}
}

// WithWindow sets the number of slots per batch.
func (r *Runner) WithWindow(slots uint64) *Runner {
	if slots > 0 {
		r.window = slots
	}
	return r
}

// Run replays events with fromSlot <= slot <= toSlot. toSlot 0 means the ledger's latest slot.
func (r *Runner) Run(ctx context.Context, fromSlot, toSlot uint64) (*Result, error) {
	start := time.Now()

	if toSlot == 0 {
		latest, err := r.ledger.LatestSlot(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest slot: %w", err)
		}
		toSlot = latest
	}
	if fromSlot > toSlot {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, fromSlot, toSlot)
	}

	res := &Result{FromSlot: fromSlot, ToSlot: toSlot}
	authorities := make(map[string]struct{})

	for lo := fromSlot; ; {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		hi := toSlot
		if toSlot-lo >= r.window {
			hi = lo + r.window - 1
		}

		batch, err := r.events.ListBySlotRange(ctx, lo, hi)
		if err != nil {
			return res, fmt.Errorf("load slots %d-%d: %w", lo, hi, err)
		}
		SortEvents(batch)

		if len(batch) > 0 {
			if err := r.publisher.Publish(ctx, batch); err != nil {
				return res, fmt.Errorf("publish slots %d-%d: %w", lo, hi, err)
			}
			res.Batches++
			r.count(res, authorities, batch)
			r.logger.WithFields(logrus.Fields{
				"from_slot": lo,
				"to_slot":   hi,
				"events":    len(batch),
			}).Debug("Replayed batch")
		}

		if hi == toSlot {
			break
		}
		lo = hi + 1
	}

	res.Authorities = make([]string, 0, len(authorities))
	for a := range authorities {
		res.Authorities = append(res.Authorities, a)
	}
	sort.Strings(res.Authorities)
	res.Duration = time.Since(start)

	r.logger.WithFields(logrus.Fields{
		"from_slot": res.FromSlot,
		"to_slot":   res.ToSlot,
		"events":    res.Events,
		"batches":   res.Batches,
		"duration":  res.Duration,
	}).Info("Replay complete")
	return res, nil
}

func (r *Runner) count(res *Result, authorities map[string]struct{}, batch []*domain.EventRecord) {
	for _, e := range batch {
		res.Events++
		switch e.Kind {
		case domain.EventKindTokenCreated:
			res.TokensCreated++
			authorities[e.Authority] = struct{}{}
		case domain.EventKindTokenMetadataUpdated:
			res.MetadataUpdates++
		}
	}
}
