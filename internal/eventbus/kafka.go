package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	sdk "github.com/segmentio/kafka-go"

	"hypertoken/internal/domain"
)

// EventMessage is the JSON payload written to Kafka.
type EventMessage struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Signature     string  `json:"signature"`
	Slot          uint64  `json:"slot"`
	Index         int     `json:"index"`
	Mint          string  `json:"mint"`
	Authority     string  `json:"authority"`
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	URI           string  `json:"uri"`
	Decimals      *uint8  `json:"decimals,omitempty"`
	InitialSupply *uint64 `json:"initial_supply,omitempty"`
	BlockTime     int64   `json:"block_time"`
}

// ToMessage maps an event record to its wire payload.
func ToMessage(e *domain.EventRecord) *EventMessage {
	return &EventMessage{
		ID:            e.ID,
		Kind:          e.Kind.String(),
		Signature:     e.Signature,
		Slot:          e.Slot,
		Index:         e.Index,
		Mint:          e.Mint,
		Authority:     e.Authority,
		Name:          e.Name,
		Symbol:        e.Symbol,
		URI:           e.URI,
		Decimals:      e.Decimals,
		InitialSupply: e.InitialSupply,
		BlockTime:     e.BlockTime,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...sdk.Message) error
	Close() error
}

// KafkaParams configures a KafkaPublisher.
type KafkaParams struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher writes events to a Kafka topic keyed by mint, so events of one
// mint land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for params.Topic.
func NewKafkaPublisher(params KafkaParams) (*KafkaPublisher, error) {
	if len(params.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if strings.TrimSpace(params.Topic) == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if params.WriteTimeout <= 0 {
		params.WriteTimeout = 10 * time.Second
	}

	writer := &sdk.Writer{
		Addr:         sdk.TCP(params.Brokers...),
		Topic:        params.Topic,
		RequiredAcks: sdk.RequireAll,
		Balancer:     &sdk.Hash{},
		WriteTimeout: params.WriteTimeout,
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish serializes events and writes them in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, events []*domain.EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]sdk.Message, 0, len(events))
	for _, e := range events {
		serialized, err := json.Marshal(ToMessage(e))
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		msgs = append(msgs, sdk.Message{
			Key:   []byte(e.Mint),
			Value: serialized,
			Headers: []sdk.Header{
				{Key: "kind", Value: []byte(e.Kind.String())},
				{Key: "event_id", Value: []byte(e.ID)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
