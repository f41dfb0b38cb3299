package factory

import (
	"context"
	"fmt"

	"hypertoken/internal/domain"
	"hypertoken/internal/pda"
)

// Factory returns the factory of authority.
func (s *Service) Factory(ctx context.Context, authority string) (*domain.TokenFactory, error) {
	address, err := s.FactoryAddress(authority)
	if err != nil {
		return nil, err
	}
	f, err := s.ledger.GetFactory(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get factory %s: %w", address, err)
	}
	return f, nil
}

// Tokens returns the registry of authority's factory in creation order.
func (s *Service) Tokens(ctx context.Context, authority string) ([]*domain.TokenRecord, error) {
	f, err := s.Factory(ctx, authority)
	if err != nil {
		return nil, err
	}
	records, err := s.registry.ListByFactory(ctx, f.Address)
	if err != nil {
		return nil, fmt.Errorf("list tokens of %s: %w", f.Address, err)
	}
	return records, nil
}

// TokenRecord returns the registry entry of a mint created through a factory.
func (s *Service) TokenRecord(ctx context.Context, mint string) (*domain.TokenRecord, error) {
	if !pda.IsValidAddress(mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}
	r, err := s.registry.GetByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get token record %s: %w", mint, err)
	}
	return r, nil
}

// Mint returns the state of a mint.
func (s *Service) Mint(ctx context.Context, mint string) (*domain.Mint, error) {
	if !pda.IsValidAddress(mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}
	m, err := s.ledger.GetMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("get mint %s: %w", mint, err)
	}
	return m, nil
}

// Holding returns the associated token account of owner for mint.
func (s *Service) Holding(ctx context.Context, owner, mint string) (*domain.TokenAccount, error) {
	if !pda.IsValidAddress(owner) {
		return nil, fmt.Errorf("owner: %w", ErrInvalidAddress)
	}
	if !pda.IsValidAddress(mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}
	address, err := s.accounts.Derive(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}
	a, err := s.ledger.GetTokenAccount(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get token account %s: %w", address, err)
	}
	return a, nil
}

// Holding is a token account together with the decimals of its mint.
type Holding struct {
	Account  *domain.TokenAccount
	Decimals uint8
}

// Holdings returns every token account of owner, ordered by mint.
func (s *Service) Holdings(ctx context.Context, owner string) ([]Holding, error) {
	if !pda.IsValidAddress(owner) {
		return nil, fmt.Errorf("owner: %w", ErrInvalidAddress)
	}
	accounts, err := s.ledger.ListTokenAccountsByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list token accounts of %s: %w", owner, err)
	}

	holdings := make([]Holding, 0, len(accounts))
	for _, a := range accounts {
		m, err := s.ledger.GetMint(ctx, a.Mint)
		if err != nil {
			return nil, fmt.Errorf("get mint %s: %w", a.Mint, err)
		}
		holdings = append(holdings, Holding{Account: a, Decimals: m.Decimals})
	}
	return holdings, nil
}

// Recent token listing bounds.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// RecentTokens returns the newest registry entries across all factories. A
// non-positive limit means DefaultRecentLimit; larger ones are capped at MaxRecentLimit.
func (s *Service) RecentTokens(ctx context.Context, limit int) ([]*domain.TokenRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	records, err := s.registry.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tokens: %w", err)
	}
	return records, nil
}

// Events returns the event log of a mint ordered by (slot, index).
func (s *Service) Events(ctx context.Context, mint string) ([]*domain.EventRecord, error) {
	if !pda.IsValidAddress(mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}
	return s.events.GetByMint(ctx, mint)
}

// LatestMetadata returns the newest announced metadata of a mint. This is an observer
// view built from the event log, not program state.
func (s *Service) LatestMetadata(ctx context.Context, mint string) (*domain.AnnouncedMetadata, error) {
	if !pda.IsValidAddress(mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}
	md, err := s.events.LatestMetadata(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("latest metadata %s: %w", mint, err)
	}
	return md, nil
}
