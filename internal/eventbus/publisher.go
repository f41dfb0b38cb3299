// Package eventbus delivers committed factory events to downstream sinks.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/observability"
)

// Publisher delivers events after they have been committed.
type Publisher interface {
	// Publish delivers events in order. Events are never retracted.
	Publish(ctx context.Context, events []*domain.EventRecord) error
	// Close flushes and releases the sink.
	Close() error
}

// Multi fans events out to several publishers. Every sink is attempted; errors are joined.
type Multi struct {
	sinks []namedPublisher
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// NewMulti creates an empty fan-out publisher.
func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a sink under name. Nil publishers are ignored.
func (m *Multi) Add(name string, p Publisher) *Multi {
	if p != nil {
		m.sinks = append(m.sinks, namedPublisher{name: name, pub: p})
	}
	return m
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Publish delivers events to every sink.
func (m *Multi) Publish(ctx context.Context, events []*domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Publish(ctx, events); err != nil {
			observability.RecordPublish(s.name, "error", len(events))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		observability.RecordPublish(s.name, "ok", len(events))
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes every event as a structured log entry.
type LogPublisher struct {
	logger logrus.FieldLogger
}

// NewLogPublisher creates a publisher that logs events at info level.
func NewLogPublisher(logger logrus.FieldLogger) *LogPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogPublisher{logger: logger.WithField("component", "event_log")}
}

// Publish logs each event.
func (p *LogPublisher) Publish(_ context.Context, events []*domain.EventRecord) error {
	for _, e := range events {
		entry := p.logger.WithFields(logrus.Fields{
			"event":     e.Kind.String(),
			"mint":      e.Mint,
			"authority": e.Authority,
			"signature": e.Signature,
			"slot":      e.Slot,
			"name":      e.Name,
			"symbol":    e.Symbol,
		})
		if e.InitialSupply != nil {
			entry = entry.WithField("initial_supply", *e.InitialSupply)
		}
		entry.Info("event")
	}
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }

// AnalyticsPublisher forwards events to an analytics store.
type AnalyticsPublisher struct {
	store analyticsInserter
}

type analyticsInserter interface {
	InsertBulk(ctx context.Context, events []*domain.EventRecord) error
}

// NewAnalyticsPublisher creates a publisher writing to store.
func NewAnalyticsPublisher(store analyticsInserter) *AnalyticsPublisher {
	return &AnalyticsPublisher{store: store}
}

// Publish bulk-inserts events.
func (p *AnalyticsPublisher) Publish(ctx context.Context, events []*domain.EventRecord) error {
	return p.store.InsertBulk(ctx, events)
}

// Close is a no-op; the store is owned by the caller.
func (p *AnalyticsPublisher) Close() error { return nil }
