package factory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypertoken/internal/anchor"
	"hypertoken/internal/domain"
	"hypertoken/internal/runtime"
	"hypertoken/internal/storage"
	"hypertoken/internal/storage/memory"
	"hypertoken/internal/tokenprogram"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.EventRecord
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, events []*domain.EventRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

type harness struct {
	svc    *Service
	ledger *memory.Ledger
	pub    *capturePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	ledger := memory.NewLedger()
	rt, err := runtime.New(ctx, ledger, nil)
	require.NoError(t, err)

	tokens := tokenprogram.New(nil)
	pub := &capturePublisher{}
	svc, err := New(Options{
		Executor:  rt,
		Mints:     tokens,
		Accounts:  tokenprogram.NewAssociatedTokenProgram(tokens, nil),
		Ledger:    ledger,
		Registry:  ledger,
		Events:    ledger.Events(),
		Publisher: pub,
	})
	require.NoError(t, err)

	return &harness{svc: svc, ledger: ledger, pub: pub}
}

func newKey() string {
	return types.NewAccount().PublicKey.ToBase58()
}

func validParams() CreateTokenParams {
	return CreateTokenParams{Name: "Foo", Symbol: "FOO", URI: "uri", Decimals: 6, InitialSupply: 1000}
}

func TestInitializeTokenFactory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	res, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, res.Factory.Authority)
	assert.Zero(t, res.Factory.TokenCount)
	assert.Equal(t, runtime.RentExemptMinimum(anchor.TokenFactoryAccountSize), res.Receipt.RentLamports)

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, res.Factory.Address, f.Address)
	assert.Zero(t, f.TokenCount)

	_, err = h.svc.InitializeTokenFactory(ctx, alice)
	assert.ErrorIs(t, err, runtime.ErrAccountInUse)

	f, err = h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, f.TokenCount)
}

func TestInitializeTokenFactory_PerAuthority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.InitializeTokenFactory(ctx, newKey())
	require.NoError(t, err)
	b, err := h.svc.InitializeTokenFactory(ctx, newKey())
	require.NoError(t, err)
	assert.NotEqual(t, a.Factory.Address, b.Factory.Address)
}

func TestCreateToken_Scenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)

	res, err := h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Factory.TokenCount)

	created, ok := res.Event.(*domain.TokenCreated)
	require.True(t, ok)
	assert.Equal(t, uint8(6), created.Decimals)
	assert.Equal(t, uint64(1000), created.InitialSupply)
	assert.Equal(t, alice, created.Creator)
	assert.Equal(t, res.Mint, created.Mint)

	m, err := h.svc.Mint(ctx, res.Mint)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), m.Decimals)
	assert.Equal(t, uint64(1000), m.Supply)
	assert.True(t, m.HasMintAuthority(alice))
	require.NotNil(t, m.FreezeAuthority)
	assert.Equal(t, alice, *m.FreezeAuthority)

	holding, err := h.svc.Holding(ctx, alice, res.Mint)
	require.NoError(t, err)
	assert.Equal(t, res.TokenAccount, holding.Address)
	assert.Equal(t, uint64(1000), holding.Amount)

	var found bool
	for _, line := range res.Receipt.Logs {
		ev, ok, err := anchor.ParseEventLogLine(line)
		require.NoError(t, err)
		if ok {
			found = true
			assert.Equal(t, created, ev)
		}
	}
	assert.True(t, found, "TokenCreated program data line")

	second := CreateTokenParams{Name: "Bar", Symbol: "BAR", Decimals: 9, InitialSupply: 1}
	res2, err := h.svc.CreateToken(ctx, alice, second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res2.Factory.TokenCount)

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.TokenCount)

	records, err := h.svc.Tokens(ctx, alice)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Index)
	assert.Equal(t, res.Mint, records[0].Mint)
	assert.Equal(t, uint64(2), records[1].Index)
	assert.Equal(t, res2.Mint, records[1].Mint)
	assert.Equal(t, res2.Receipt.Signature, records[1].Signature)

	assert.Len(t, h.pub.events, 2)
}

func TestCreateToken_Instructions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	res, err := h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)

	var programs []string
	for _, ix := range res.Receipt.Instructions {
		programs = append(programs, ix.ProgramID.ToBase58())
	}
	assert.Equal(t, []string{
		h.svc.ProgramID(),
		"11111111111111111111111111111111",            // create mint account
		"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",  // initialize mint
		"ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL", // create associated account
		"11111111111111111111111111111111",
		"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", // initialize account
		"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", // mint to
	}, programs)

	assert.Equal(t, runtime.RentExemptMinimum(82)+runtime.RentExemptMinimum(165), res.Receipt.RentLamports)
}

func TestCreateToken_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(p *CreateTokenParams)
		want   error
	}{
		{"empty name", func(p *CreateTokenParams) { p.Name = "" }, ErrInvalidName},
		{"empty name wins over everything", func(p *CreateTokenParams) {
			p.Name, p.Symbol, p.Decimals, p.InitialSupply = "", "", 200, 0
		}, ErrInvalidName},
		{"empty symbol", func(p *CreateTokenParams) { p.Symbol = "" }, ErrInvalidSymbol},
		{"symbol before decimals", func(p *CreateTokenParams) { p.Symbol, p.Decimals = "", 10 }, ErrInvalidSymbol},
		{"decimals 10", func(p *CreateTokenParams) { p.Decimals = 10 }, ErrInvalidDecimals},
		{"decimals before supply", func(p *CreateTokenParams) { p.Decimals, p.InitialSupply = 255, 0 }, ErrInvalidDecimals},
		{"zero supply", func(p *CreateTokenParams) { p.InitialSupply = 0 }, ErrInvalidSupply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			_, err := h.svc.CreateToken(ctx, alice, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, f.TokenCount)
}

func TestCreateToken_Boundaries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)

	for _, p := range []CreateTokenParams{
		{Name: "a", Symbol: "A", Decimals: 0, InitialSupply: 1},
		{Name: "b", Symbol: "B", Decimals: 9, InitialSupply: ^uint64(0)},
		{Name: "c", Symbol: "C", URI: "", Decimals: 3, InitialSupply: 42},
	} {
		_, err := h.svc.CreateToken(ctx, alice, p)
		require.NoError(t, err)
	}

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.TokenCount)
}

func TestCreateToken_WithoutFactory(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateToken(context.Background(), newKey(), validParams())
	assert.ErrorIs(t, err, runtime.ErrAccountNotFound)
}

func TestCreateToken_InvalidAddresses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateToken(ctx, "not-a-key", validParams())
	assert.ErrorIs(t, err, ErrInvalidAddress)

	p := validParams()
	p.Mint = "0OIl"
	_, err = h.svc.CreateToken(ctx, newKey(), p)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestCreateToken_DelegatedFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)

	first, err := h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)

	p := validParams()
	p.Mint = first.Mint
	_, err = h.svc.CreateToken(ctx, alice, p)
	require.ErrorIs(t, err, tokenprogram.ErrAlreadyInUse)

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.TokenCount)

	records, err := h.svc.Tokens(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	events, err := h.svc.Events(ctx, first.Mint)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	m, err := h.svc.Mint(ctx, first.Mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), m.Supply)
	assert.Len(t, h.pub.events, 1)
}

func TestCreateToken_MintAddressOccupiedByOtherAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	first, err := h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)

	factoryAddr, err := h.svc.FactoryAddress(alice)
	require.NoError(t, err)

	for name, addr := range map[string]string{
		"factory":       factoryAddr,
		"token account": first.TokenAccount,
		"authority":     alice,
	} {
		t.Run(name, func(t *testing.T) {
			p := validParams()
			p.Mint = addr
			_, err := h.svc.CreateToken(ctx, alice, p)
			require.ErrorIs(t, err, runtime.ErrAccountInUse)

			_, err = h.svc.Mint(ctx, addr)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.TokenCount)

	records, err := h.svc.Tokens(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, h.pub.events, 1)
}

func TestCreateToken_ConcurrentSameAuthority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateToken(ctx, alice, validParams())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), f.TokenCount)

	records, err := h.svc.Tokens(ctx, alice)
	require.NoError(t, err)
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.Index)
	}
}

func TestCreateToken_ConcurrentAuthoritiesIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	authorities := []string{newKey(), newKey(), newKey()}
	for _, a := range authorities {
		_, err := h.svc.InitializeTokenFactory(ctx, a)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, a := range authorities {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(authority string) {
				defer wg.Done()
				_, err := h.svc.CreateToken(ctx, authority, validParams())
				assert.NoError(t, err)
			}(a)
		}
	}
	wg.Wait()

	for _, a := range authorities {
		f, err := h.svc.Factory(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), f.TokenCount)
	}
}

func TestUpdateTokenMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	created, err := h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)

	res, err := h.svc.UpdateTokenMetadata(ctx, alice, UpdateTokenMetadataParams{
		Mint: created.Mint, Name: "Foo2", Symbol: "FOO2", URI: "uri2",
	})
	require.NoError(t, err)

	updated, ok := res.Event.(*domain.TokenMetadataUpdated)
	require.True(t, ok)
	assert.Equal(t, alice, updated.Updater)
	assert.Equal(t, "Foo2", updated.Name)

	md, err := h.svc.LatestMetadata(ctx, created.Mint)
	require.NoError(t, err)
	assert.Equal(t, "Foo2", md.Name)
	assert.Equal(t, domain.EventKindTokenMetadataUpdated, md.Source)

	events, err := h.svc.Events(ctx, created.Mint)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventKindTokenCreated, events[0].Kind)
	assert.Equal(t, domain.EventKindTokenMetadataUpdated, events[1].Kind)

	m, err := h.svc.Mint(ctx, created.Mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), m.Supply)

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.TokenCount)
}

func TestUpdateTokenMetadata_Unauthorized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	created, err := h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)

	_, err = h.svc.UpdateTokenMetadata(ctx, newKey(), UpdateTokenMetadataParams{
		Mint: created.Mint, Name: "Evil", Symbol: "EVL",
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	pe, ok := AsProgramError(err)
	require.True(t, ok)
	assert.Equal(t, uint32(6004), pe.Code)

	events, err := h.svc.Events(ctx, created.Mint)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpdateTokenMetadata_NoMintAuthority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mint := newKey()
	require.NoError(t, h.ledger.Commit(ctx, &storage.ChangeSet{
		Signature:    "seed",
		CreatedMints: []*domain.Mint{{Address: mint, Decimals: 0, Supply: 10, IsInitialized: true}},
	}))

	_, err := h.svc.UpdateTokenMetadata(ctx, newKey(), UpdateTokenMetadataParams{Mint: mint, Name: "x", Symbol: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateTokenMetadata_UnknownMint(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.UpdateTokenMetadata(context.Background(), newKey(), UpdateTokenMetadataParams{
		Mint: newKey(), Name: "x", Symbol: "x",
	})
	assert.ErrorIs(t, err, runtime.ErrAccountNotFound)
}

func TestPublishFailureKeepsCommit(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("kafka down")
	ctx := context.Background()
	alice := newKey()

	_, err := h.svc.InitializeTokenFactory(ctx, alice)
	require.NoError(t, err)
	_, err = h.svc.CreateToken(ctx, alice, validParams())
	require.NoError(t, err)

	f, err := h.svc.Factory(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.TokenCount)
}

func TestQueries_NotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Factory(ctx, newKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.svc.Tokens(ctx, newKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.svc.Mint(ctx, newKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.svc.Holding(ctx, newKey(), newKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.svc.LatestMetadata(ctx, newKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.svc.Factory(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestHoldingsAndRecentTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := newKey(), newKey()

	var mints []string
	for _, authority := range []string{alice, bob, alice} {
		if _, err := h.svc.Factory(ctx, authority); errors.Is(err, storage.ErrNotFound) {
			_, err := h.svc.InitializeTokenFactory(ctx, authority)
			require.NoError(t, err)
		}
		p := validParams()
		p.Decimals = uint8(len(mints) + 2)
		res, err := h.svc.CreateToken(ctx, authority, p)
		require.NoError(t, err)
		mints = append(mints, res.Mint)
	}

	holdings, err := h.svc.Holdings(ctx, alice)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	byMint := map[string]Holding{}
	for _, hd := range holdings {
		assert.Equal(t, alice, hd.Account.Owner)
		assert.Equal(t, uint64(1000), hd.Account.Amount)
		byMint[hd.Account.Mint] = hd
	}
	assert.Equal(t, uint8(2), byMint[mints[0]].Decimals)
	assert.Equal(t, uint8(4), byMint[mints[2]].Decimals)

	none, err := h.svc.Holdings(ctx, newKey())
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = h.svc.Holdings(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	recent, err := h.svc.RecentTokens(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, mints[2], recent[0].Mint)
	assert.Equal(t, mints[1], recent[1].Mint)
	assert.Equal(t, bob, recent[1].Creator)

	all, err := h.svc.RecentTokens(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	capped, err := h.svc.RecentTokens(ctx, MaxRecentLimit+1)
	require.NoError(t, err)
	assert.Len(t, capped, 3)
}

func TestErrorName(t *testing.T) {
	assert.Equal(t, "InvalidDecimals", ErrorName(ErrInvalidDecimals))
	assert.Equal(t, "AccountInUse", ErrorName(runtime.ErrAccountInUse))
	assert.Equal(t, "Internal", ErrorName(errors.New("x")))
	assert.Equal(t, "InvalidName: Invalid token name", ErrInvalidName.Error())
}
