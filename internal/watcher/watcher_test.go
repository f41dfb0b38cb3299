package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypertoken/internal/anchor"
	"hypertoken/internal/domain"
	"hypertoken/internal/factory"
	"hypertoken/internal/idhash"
	"hypertoken/internal/runtime"
	"hypertoken/internal/solana"
	"hypertoken/internal/storage/memory"
	"hypertoken/internal/tokenprogram"
)

const programID = factory.DefaultProgramID

func newKey() string {
	return types.NewAccount().PublicKey.ToBase58()
}

type fakeSubscriber struct {
	ch     chan solana.LogNotification
	filter solana.LogsFilter
	err    error
}

func (f *fakeSubscriber) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}

func (f *fakeSubscriber) Close() error { return nil }

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.EventRecord
}

func (p *capturePublisher) Publish(_ context.Context, events []*domain.EventRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// cluster produces real transaction logs by running the factory in-process.
func cluster(t *testing.T) *factory.Service {
	t.Helper()
	ledger := memory.NewLedger()
	rt, err := runtime.New(context.Background(), ledger, quietLogger())
	require.NoError(t, err)
	tokens := tokenprogram.New(quietLogger())
	svc, err := factory.New(factory.Options{
		Executor: rt,
		Mints:    tokens,
		Accounts: tokenprogram.NewAssociatedTokenProgram(tokens, quietLogger()),
		Ledger:   ledger,
		Registry: ledger,
		Events:   ledger.Events(),
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	return svc
}

func notificationFor(r *runtime.Receipt) solana.LogNotification {
	return solana.LogNotification{Signature: r.Signature, Slot: int64(r.Slot), Logs: r.Logs}
}

func newWatcher(t *testing.T, sub solana.LogsSubscriber, pub *capturePublisher) (*Watcher, *memory.EventStore) {
	t.Helper()
	store := memory.NewEventStore()
	opts := Options{
		Subscriber: sub,
		ProgramID:  programID,
		Events:     store,
		Logger:     quietLogger(),
		Now:        func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}
	if pub != nil {
		opts.Publisher = pub
	}
	w, err := New(opts)
	require.NoError(t, err)
	return w, store
}

func TestLogParser_ReceiptLogs(t *testing.T) {
	svc := cluster(t)
	ctx := context.Background()
	alice := newKey()

	_, err := svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	res, err := svc.CreateToken(ctx, alice, factory.CreateTokenParams{
		Name: "Foo", Symbol: "FOO", URI: "ipfs://foo", Decimals: 6, InitialSupply: 1000,
	})
	require.NoError(t, err)

	events, errs := NewLogParser(programID).Parse(res.Receipt.Logs)
	require.Empty(t, errs)
	require.Len(t, events, 1)

	created, ok := events[0].Event.(*domain.TokenCreated)
	require.True(t, ok)
	assert.Equal(t, res.Mint, created.Mint)
	assert.Equal(t, "FOO", created.Symbol)
	assert.Equal(t, uint64(1000), created.InitialSupply)
	assert.Equal(t, alice, created.Creator)
	assert.Equal(t, 0, events[0].Index)
}

func TestLogParser_IgnoresOtherPrograms(t *testing.T) {
	line, err := anchor.EventLogLine(&domain.TokenMetadataUpdated{
		Mint: newKey(), Name: "N", Symbol: "S", URI: "u", Updater: newKey(),
	})
	require.NoError(t, err)

	other := "Other11111111111111111111111111111111111111"
	logs := []string{
		"Program " + other + " invoke [1]",
		line, // emitted by another program
		"Program " + programID + " invoke [2]",
		line,
		"Program data: !!!notbase64",
		"Program " + programID + " success",
		line, // back in the other program
		"Program " + other + " success",
		line, // outside any frame
	}

	events, errs := NewLogParser(programID).Parse(logs)
	require.Len(t, events, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.EventKindTokenMetadataUpdated, events[0].Event.Kind())
}

func TestLogParser_FailedFramePops(t *testing.T) {
	line, err := anchor.EventLogLine(&domain.TokenMetadataUpdated{Mint: newKey(), Updater: newKey()})
	require.NoError(t, err)

	logs := []string{
		"Program " + programID + " invoke [1]",
		"Program Tok invoke [2]",
		"Program Tok failed: custom program error: 0x3",
		line,
		"Program " + programID + " success",
	}
	events, errs := NewLogParser(programID).Parse(logs)
	assert.Empty(t, errs)
	assert.Len(t, events, 1)
}

func TestWatcher_Handle(t *testing.T) {
	svc := cluster(t)
	ctx := context.Background()
	alice := newKey()

	_, err := svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	created, err := svc.CreateToken(ctx, alice, factory.CreateTokenParams{
		Name: "Foo", Symbol: "FOO", URI: "uri", Decimals: 9, InitialSupply: 5,
	})
	require.NoError(t, err)
	updated, err := svc.UpdateTokenMetadata(ctx, alice, factory.UpdateTokenMetadataParams{
		Mint: created.Mint, Name: "Bar", Symbol: "BAR", URI: "uri2",
	})
	require.NoError(t, err)

	pub := &capturePublisher{}
	w, store := newWatcher(t, &fakeSubscriber{}, pub)

	stored, err := w.Handle(ctx, notificationFor(created.Receipt))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, idhash.ComputeEventID(created.Receipt.Signature, 0), stored[0].ID)
	assert.Equal(t, created.Receipt.Events[0].ID, stored[0].ID)
	assert.Equal(t, int64(1_700_000_000_000), stored[0].BlockTime)

	stored, err = w.Handle(ctx, notificationFor(updated.Receipt))
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// Replays are skipped.
	stored, err = w.Handle(ctx, notificationFor(created.Receipt))
	require.NoError(t, err)
	assert.Empty(t, stored)

	meta, err := store.LatestMetadata(ctx, created.Mint)
	require.NoError(t, err)
	assert.Equal(t, "BAR", meta.Symbol)
	assert.Equal(t, domain.EventKindTokenMetadataUpdated, meta.Source)

	assert.Len(t, pub.events, 2)

	stats := w.Stats()
	assert.Equal(t, 3, stats.Notifications)
	assert.Equal(t, 2, stats.Stored)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, int64(updated.Receipt.Slot), stats.HighestSlot)
}

func TestWatcher_SkipsFailedTransactions(t *testing.T) {
	line, err := anchor.EventLogLine(&domain.TokenMetadataUpdated{Mint: newKey(), Updater: newKey()})
	require.NoError(t, err)

	w, store := newWatcher(t, &fakeSubscriber{}, nil)
	stored, err := w.Handle(context.Background(), solana.LogNotification{
		Signature: "sig",
		Slot:      10,
		Logs:      []string{"Program " + programID + " invoke [1]", line, "Program " + programID + " failed: x"},
		Err:       map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 6004}}},
	})
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, 1, w.Stats().Skipped)

	events, err := store.GetBySignature(context.Background(), "sig")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWatcher_Run(t *testing.T) {
	mint := newKey()
	line, err := anchor.EventLogLine(&domain.TokenMetadataUpdated{Mint: mint, Symbol: "X", Updater: newKey()})
	require.NoError(t, err)

	sub := &fakeSubscriber{ch: make(chan solana.LogNotification, 1)}
	w, store := newWatcher(t, sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	sub.ch <- solana.LogNotification{
		Signature: "sig",
		Slot:      7,
		Logs:      []string{"Program " + programID + " invoke [1]", line, "Program " + programID + " success"},
	}

	require.Eventually(t, func() bool {
		events, _ := store.GetByMint(context.Background(), mint)
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{programID}, sub.filter.Mentions)
}

func TestWatcher_RunSubscriptionClosed(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan solana.LogNotification)}
	close(sub.ch)
	w, _ := newWatcher(t, sub, nil)
	require.Error(t, w.Run(context.Background()))

	failing := &fakeSubscriber{err: errors.New("dial")}
	w, _ = newWatcher(t, failing, nil)
	require.ErrorContains(t, w.Run(context.Background()), "dial")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Subscriber: &fakeSubscriber{}})
	require.Error(t, err)
	_, err = New(Options{Subscriber: &fakeSubscriber{}, ProgramID: programID})
	require.Error(t, err)
}
