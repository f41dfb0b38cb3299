package memory

import (
	"context"
	"errors"
	"testing"

	"hypertoken/internal/domain"
	"hypertoken/internal/storage"
)

func strPtr(s string) *string { return &s }

func TestLedger_CommitAndGet(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	cs := &storage.ChangeSet{
		Signature:        "sig1",
		Slot:             5,
		CreatedFactories: []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
		CreatedMints: []*domain.Mint{{
			Address:       "mint1",
			Decimals:      6,
			MintAuthority: strPtr("auth1"),
			IsInitialized: true,
		}},
		CreatedTokenAccounts: []*domain.TokenAccount{{Address: "ata1", Mint: "mint1", Owner: "auth1"}},
	}
	if err := l.Commit(ctx, cs); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	f, err := l.GetFactory(ctx, "factory1")
	if err != nil {
		t.Fatalf("GetFactory failed: %v", err)
	}
	if f.Authority != "auth1" || f.TokenCount != 0 {
		t.Errorf("unexpected factory: %+v", f)
	}

	m, err := l.GetMint(ctx, "mint1")
	if err != nil {
		t.Fatalf("GetMint failed: %v", err)
	}
	if m.Decimals != 6 || !m.HasMintAuthority("auth1") {
		t.Errorf("unexpected mint: %+v", m)
	}

	slot, _ := l.LatestSlot(ctx)
	if slot != 5 {
		t.Errorf("LatestSlot: got %d, want 5", slot)
	}
}

func TestLedger_CommitDuplicateIsAtomic(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	if err := l.Commit(ctx, &storage.ChangeSet{
		CreatedFactories: []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
	}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	err := l.Commit(ctx, &storage.ChangeSet{
		Slot:         9,
		CreatedMints: []*domain.Mint{{Address: "mint1"}},
		CreatedFactories: []*domain.TokenFactory{
			{Address: "factory1", Authority: "auth1"},
		},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	// Mint from the failed change set must not be visible
	if _, err := l.GetMint(ctx, "mint1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for mint of failed commit, got %v", err)
	}
	if slot, _ := l.LatestSlot(ctx); slot != 0 {
		t.Errorf("LatestSlot should not advance on failed commit, got %d", slot)
	}
}

func TestLedger_CommitDuplicateWithinChangeSet(t *testing.T) {
	l := NewLedger()

	err := l.Commit(context.Background(), &storage.ChangeSet{
		CreatedMints: []*domain.Mint{{Address: "mint1"}, {Address: "mint1"}},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestLedger_UpdateMissing(t *testing.T) {
	l := NewLedger()

	err := l.Commit(context.Background(), &storage.ChangeSet{
		UpdatedFactories: []*domain.TokenFactory{{Address: "nope", TokenCount: 1}},
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLedger_Registry(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	// Insert out of order, read back ordered by index
	for _, idx := range []uint64{2, 1, 3} {
		mint := "mint" + string(rune('0'+idx))
		if err := l.Commit(ctx, &storage.ChangeSet{
			Records: []*domain.TokenRecord{{Factory: "factory1", Index: idx, Mint: mint}},
		}); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	records, err := l.ListByFactory(ctx, "factory1")
	if err != nil {
		t.Fatalf("ListByFactory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.Index != uint64(i+1) {
			t.Errorf("record %d: index %d", i, r.Index)
		}
	}

	r, err := l.GetByMint(ctx, "mint2")
	if err != nil {
		t.Fatalf("GetByMint failed: %v", err)
	}
	if r.Index != 2 {
		t.Errorf("Expected index 2, got %d", r.Index)
	}

	err = l.Commit(ctx, &storage.ChangeSet{
		Records: []*domain.TokenRecord{{Factory: "factory2", Index: 1, Mint: "mint2"}},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for duplicate mint, got %v", err)
	}

	empty, err := l.ListByFactory(ctx, "unknown")
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty registry, got %v, %v", empty, err)
	}
}

func TestLedger_ListRecent(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	for i, mint := range []string{"mintA", "mintB", "mintC"} {
		if err := l.Commit(ctx, &storage.ChangeSet{
			Slot:    uint64(i + 1),
			Records: []*domain.TokenRecord{{Factory: "factory" + mint, Index: 1, Mint: mint, Slot: uint64(i + 1)}},
		}); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	recent, err := l.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Mint != "mintC" || recent[1].Mint != "mintB" {
		t.Errorf("unexpected recent records: %+v", recent)
	}

	all, _ := l.ListRecent(ctx, 100)
	if len(all) != 3 || all[2].Mint != "mintA" {
		t.Errorf("Expected all 3 records newest first, got %+v", all)
	}

	if _, err := l.ListRecent(ctx, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for zero limit, got %v", err)
	}
}

func TestLedger_ListTokenAccountsByOwner(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	if err := l.Commit(ctx, &storage.ChangeSet{
		CreatedMints: []*domain.Mint{{Address: "mintA"}, {Address: "mintB"}},
		CreatedTokenAccounts: []*domain.TokenAccount{
			{Address: "ata2", Mint: "mintB", Owner: "alice", Amount: 5},
			{Address: "ata1", Mint: "mintA", Owner: "alice", Amount: 7},
			{Address: "ata3", Mint: "mintA", Owner: "bob"},
		},
	}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	holdings, err := l.ListTokenAccountsByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListTokenAccountsByOwner failed: %v", err)
	}
	if len(holdings) != 2 || holdings[0].Mint != "mintA" || holdings[0].Amount != 7 || holdings[1].Address != "ata2" {
		t.Errorf("unexpected holdings: %+v", holdings)
	}

	none, err := l.ListTokenAccountsByOwner(ctx, "carol")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("Expected empty non-nil holdings, got %v, %v", none, err)
	}
}

func TestLedger_ReturnsCopy(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	mint := &domain.Mint{Address: "mint1", Decimals: 9, MintAuthority: strPtr("auth1")}
	if err := l.Commit(ctx, &storage.ChangeSet{CreatedMints: []*domain.Mint{mint}}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Modify original
	mint.Decimals = 6
	*mint.MintAuthority = "other"

	got, _ := l.GetMint(ctx, "mint1")
	if got.Decimals != 9 || *got.MintAuthority != "auth1" {
		t.Error("Store should keep a copy, not a reference")
	}

	got.Supply = 100
	again, _ := l.GetMint(ctx, "mint1")
	if again.Supply != 0 {
		t.Error("Store should return copy, not reference")
	}
}

func TestLedger_InvalidInput(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	if err := l.Commit(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}

	err := l.Commit(ctx, &storage.ChangeSet{
		Events: []*domain.EventRecord{{ID: ""}},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty event id, got %v", err)
	}
}

func TestLedger_CommitAddressSharedAcrossTypes(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	if err := l.Commit(ctx, &storage.ChangeSet{
		CreatedFactories:     []*domain.TokenFactory{{Address: "factory1", Authority: "auth1"}},
		CreatedMints:         []*domain.Mint{{Address: "mint1"}},
		CreatedTokenAccounts: []*domain.TokenAccount{{Address: "ata1", Mint: "mint1", Owner: "auth1"}},
	}); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	cases := []*storage.ChangeSet{
		{CreatedMints: []*domain.Mint{{Address: "factory1"}}},
		{CreatedMints: []*domain.Mint{{Address: "ata1"}}},
		{CreatedTokenAccounts: []*domain.TokenAccount{{Address: "mint1", Mint: "mint1", Owner: "auth1"}}},
		{CreatedFactories: []*domain.TokenFactory{{Address: "ata1", Authority: "auth1"}}},
	}
	for i, cs := range cases {
		if err := l.Commit(ctx, cs); !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("case %d: expected ErrDuplicateKey, got %v", i, err)
		}
	}

	if _, err := l.GetMint(ctx, "factory1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no mint at factory address, got %v", err)
	}
}
