package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypertoken/internal/domain"
	"hypertoken/internal/factory"
	"hypertoken/internal/runtime"
	"hypertoken/internal/storage"
	"hypertoken/internal/storage/postgres"
	"hypertoken/internal/tokenprogram"
)

func TestLedger_CommitAndGet(t *testing.T) {
	ledger := postgres.NewLedger(setupTestDB(t))
	ctx := context.Background()

	maxU64 := ^uint64(0)
	cs := &storage.ChangeSet{
		Signature:        "sig1",
		Slot:             5,
		CreatedFactories: []*domain.TokenFactory{{Address: "factory1", Authority: "auth1", Bump: 254}},
		CreatedMints: []*domain.Mint{{
			Address:       "mint1",
			Decimals:      9,
			Supply:        maxU64,
			MintAuthority: ptr("auth1"),
			IsInitialized: true,
		}},
		CreatedTokenAccounts: []*domain.TokenAccount{{
			Address: "ata1", Mint: "mint1", Owner: "auth1", Amount: maxU64, State: domain.TokenAccountInitialized,
		}},
	}
	require.NoError(t, ledger.Commit(ctx, cs))

	f, err := ledger.GetFactory(ctx, "factory1")
	require.NoError(t, err)
	assert.Equal(t, &domain.TokenFactory{Address: "factory1", Authority: "auth1", Bump: 254}, f)

	m, err := ledger.GetMint(ctx, "mint1")
	require.NoError(t, err)
	assert.Equal(t, maxU64, m.Supply)
	assert.True(t, m.HasMintAuthority("auth1"))
	assert.Nil(t, m.FreezeAuthority)

	a, err := ledger.GetTokenAccount(ctx, "ata1")
	require.NoError(t, err)
	assert.Equal(t, maxU64, a.Amount)
	assert.Equal(t, domain.TokenAccountInitialized, a.State)

	slot, err := ledger.LatestSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), slot)

	// Updates and a lower slot do not move latest_slot backwards.
	require.NoError(t, ledger.Commit(ctx, &storage.ChangeSet{
		Slot:             3,
		UpdatedFactories: []*domain.TokenFactory{{Address: "factory1", TokenCount: 7}},
	}))
	f, err = ledger.GetFactory(ctx, "factory1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), f.TokenCount)
	slot, _ = ledger.LatestSlot(ctx)
	assert.Equal(t, uint64(5), slot)
}

func TestLedger_CommitIsAtomic(t *testing.T) {
	ledger := postgres.NewLedger(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedFactories: []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
	}))

	err := ledger.Commit(ctx, &storage.ChangeSet{
		Slot:             9,
		CreatedMints:     []*domain.Mint{{Address: "mint1"}},
		CreatedFactories: []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = ledger.GetMint(ctx, "mint1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	slot, _ := ledger.LatestSlot(ctx)
	assert.Zero(t, slot)

	err = ledger.Commit(ctx, &storage.ChangeSet{
		UpdatedMints: []*domain.Mint{{Address: "nope"}},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedMints: []*domain.Mint{{Address: ""}},
	}), storage.ErrInvalidInput)
}

func TestLedger_CommitRejectsAddressReuseAcrossTypes(t *testing.T) {
	ledger := postgres.NewLedger(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedFactories:     []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
		CreatedMints:         []*domain.Mint{{Address: "mint1"}},
		CreatedTokenAccounts: []*domain.TokenAccount{{Address: "ata1", Mint: "mint1", Owner: "auth1"}},
	}))

	assert.ErrorIs(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedMints: []*domain.Mint{{Address: "factory1"}},
	}), storage.ErrDuplicateKey)
	assert.ErrorIs(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedMints: []*domain.Mint{{Address: "ata1"}},
	}), storage.ErrDuplicateKey)
	assert.ErrorIs(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedTokenAccounts: []*domain.TokenAccount{{Address: "mint1", Mint: "mint1", Owner: "auth1"}},
	}), storage.ErrDuplicateKey)

	_, err := ledger.GetMint(ctx, "factory1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLedger_ListTokenAccountsByOwner(t *testing.T) {
	ledger := postgres.NewLedger(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedMints: []*domain.Mint{{Address: "mintA"}, {Address: "mintB"}},
		CreatedTokenAccounts: []*domain.TokenAccount{
			{Address: "ata2", Mint: "mintB", Owner: "alice", Amount: 5},
			{Address: "ata1", Mint: "mintA", Owner: "alice", Amount: ^uint64(0)},
			{Address: "ata3", Mint: "mintA", Owner: "bob"},
		},
	}))

	holdings, err := ledger.ListTokenAccountsByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "ata1", holdings[0].Address)
	assert.Equal(t, ^uint64(0), holdings[0].Amount)
	assert.Equal(t, "mintB", holdings[1].Mint)

	none, err := ledger.ListTokenAccountsByOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_RegistryAndEvents(t *testing.T) {
	ledger := postgres.NewLedger(setupTestDB(t))
	events := ledger.Events()
	ctx := context.Background()

	require.NoError(t, ledger.Commit(ctx, &storage.ChangeSet{
		CreatedFactories: []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
		CreatedMints:     []*domain.Mint{{Address: "mintA"}, {Address: "mintB"}},
	}))

	for i, mint := range []string{"mintB", "mintA"} {
		idx := uint64(2 - i)
		ev := domain.NewEventRecord(&domain.TokenCreated{
			Mint: mint, Name: "N", Symbol: "S", URI: "u", Decimals: 6, InitialSupply: ^uint64(0), Creator: "auth1",
		}, "sig-"+mint, idx, 0, 1700000000000)
		ev.ID = "id-" + mint

		require.NoError(t, ledger.Commit(ctx, &storage.ChangeSet{
			Slot:             idx,
			UpdatedFactories: []*domain.TokenFactory{{Address: "factory1", TokenCount: idx}},
			Records: []*domain.TokenRecord{{
				Factory: "factory1", Index: idx, Mint: mint, Creator: "auth1",
				TokenAccount: "ata-" + mint, Signature: "sig-" + mint, Slot: idx, CreatedAt: 1700000000000,
			}},
			Events: []*domain.EventRecord{ev},
		}))
	}

	records, err := ledger.ListByFactory(ctx, "factory1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "mintA", records[0].Mint)
	assert.Equal(t, uint64(1), records[0].Index)
	assert.Equal(t, "mintB", records[1].Mint)

	empty, err := ledger.ListByFactory(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)

	recent, err := ledger.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "mintB", recent[0].Mint)
	recent, err = ledger.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "mintA", recent[1].Mint)
	_, err = ledger.ListRecent(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	rec, err := ledger.GetByMint(ctx, "mintB")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Index)
	_, err = ledger.GetByMint(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A mint can appear in the registry once.
	err = ledger.Commit(ctx, &storage.ChangeSet{
		Records: []*domain.TokenRecord{{Factory: "factory1", Index: 3, Mint: "mintA"}},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := events.GetByMint(ctx, "mintA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ^uint64(0), *got[0].InitialSupply)
	assert.Equal(t, uint8(6), *got[0].Decimals)
	assert.Equal(t, domain.EventKindTokenCreated, got[0].Kind)
}

func TestEventStore_InsertOrderAndLatest(t *testing.T) {
	store := postgres.NewEventStore(setupTestDB(t))
	ctx := context.Background()

	created := domain.NewEventRecord(&domain.TokenCreated{Mint: "m", Name: "Foo", Symbol: "FOO", Creator: "a"}, "s1", 10, 0, 1)
	created.ID = "e1"
	first := domain.NewEventRecord(&domain.TokenMetadataUpdated{Mint: "m", Name: "Bar", Symbol: "BAR", Updater: "a"}, "s2", 11, 0, 2)
	first.ID = "e2"
	second := domain.NewEventRecord(&domain.TokenMetadataUpdated{Mint: "m", Name: "Baz", Symbol: "BAZ", Updater: "a"}, "s2", 11, 1, 2)
	second.ID = "e3"

	for _, e := range []*domain.EventRecord{second, created, first} {
		require.NoError(t, store.Insert(ctx, e))
	}
	assert.ErrorIs(t, store.Insert(ctx, first), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.Insert(ctx, &domain.EventRecord{}), storage.ErrInvalidInput)

	events, err := store.GetByMint(ctx, "m")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, []string{events[0].ID, events[1].ID, events[2].ID})
	assert.Nil(t, events[1].Decimals)
	assert.Nil(t, events[1].InitialSupply)

	bySig, err := store.GetBySignature(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, bySig, 2)

	meta, err := store.LatestMetadata(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "BAZ", meta.Symbol)
	assert.Equal(t, domain.EventKindTokenMetadataUpdated, meta.Source)

	_, err = store.LatestMetadata(ctx, "unknown")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ranged, err := store.ListBySlotRange(ctx, 11, 11)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "e2", ranged[0].ID)
	assert.Equal(t, "e3", ranged[1].ID)

	all, err := store.ListBySlotRange(ctx, 0, ^uint64(0))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = store.ListBySlotRange(ctx, 5, 4)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

// The factory running on the PostgreSQL ledger keeps counts exact under contention.
func TestLedger_FactoryEndToEnd(t *testing.T) {
	pool := setupTestDB(t)
	ledger := postgres.NewLedger(pool)
	ctx := context.Background()

	rt, err := runtime.New(ctx, ledger, nil)
	require.NoError(t, err)
	tokens := tokenprogram.New(nil)
	svc, err := factory.New(factory.Options{
		Executor: rt,
		Mints:    tokens,
		Accounts: tokenprogram.NewAssociatedTokenProgram(tokens, nil),
		Ledger:   ledger,
		Registry: ledger,
		Events:   ledger.Events(),
	})
	require.NoError(t, err)

	alice := types.NewAccount().PublicKey.ToBase58()
	_, err = svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateToken(ctx, alice, factory.CreateTokenParams{
				Name: "Foo", Symbol: "FOO", URI: "uri", Decimals: 6, InitialSupply: 1000,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	f, err := svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), f.TokenCount)

	records, err := svc.Tokens(ctx, alice)
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Index)

		holding, err := svc.Holding(ctx, alice, r.Mint)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), holding.Amount)
	}

	// A restarted runtime resumes after the persisted slot.
	rt2, err := runtime.New(ctx, ledger, nil)
	require.NoError(t, err)
	latest, err := ledger.LatestSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, rt2.LatestSlot())
}
