package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/pda"
	"hypertoken/internal/storage"
)

// FactoryVerifier verifies factories against the stores they were committed to.
type FactoryVerifier struct {
	programID string
	ledger    storage.LedgerStore
	registry  storage.RegistryStore
	events    storage.EventStore
	logger    logrus.FieldLogger
}

// NewFactoryVerifier creates a verifier for factories of programID.
func NewFactoryVerifier(programID string, ledger storage.LedgerStore, registry storage.RegistryStore, events storage.EventStore, logger logrus.FieldLogger) *FactoryVerifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FactoryVerifier{
		programID: programID,
		ledger:    ledger,
		registry:  registry,
		events:    events,
		logger:    logger,
	}
}

// VerifyFactory verifies the factory of authority. Store failures are returned as errors;
// inconsistencies are reported in the Report.
func (v *FactoryVerifier) VerifyFactory(ctx context.Context, authority string) (*Report, error) {
	address, _, err := pda.FactoryAddress(v.programID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive factory of %s: %w", authority, err)
	}
	report := &Report{Authority: authority, Factory: address}

	f, err := v.ledger.GetFactory(ctx, address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		report.Problems = append(report.Problems, "factory account not found")
	case err != nil:
		return nil, fmt.Errorf("get factory %s: %w", address, err)
	default:
		report.TokenCount = f.TokenCount
		if f.Authority != authority {
			report.Problems = append(report.Problems, fmt.Sprintf("factory authority is %s", f.Authority))
		}
	}

	records, err := v.registry.ListByFactory(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("list registry of %s: %w", address, err)
	}
	report.RegistryLength = len(records)
	if uint64(len(records)) != report.TokenCount {
		report.Problems = append(report.Problems,
			fmt.Sprintf("token_count %d but registry holds %d entries", report.TokenCount, len(records)))
	}

	for i, rec := range records {
		result, err := v.verifyRecord(ctx, rec)
		if err != nil {
			return nil, err
		}
		if want := uint64(i + 1); rec.Index != want {
			result.Divergences = append(result.Divergences, Divergence{Field: "Index", Expected: want, Actual: rec.Index})
			result.Match = false
		}
		if !result.Match {
			report.DivergentCount++
		}
		report.Tokens = append(report.Tokens, *result)
	}

	entry := v.logger.WithFields(logrus.Fields{
		"authority":   authority,
		"factory":     address,
		"token_count": report.TokenCount,
		"divergent":   report.DivergentCount,
	})
	if report.OK() {
		entry.Debug("Factory verified")
	} else {
		entry.WithField("problems", report.Problems).Warn("Factory verification found inconsistencies")
	}
	return report, nil
}

// VerifyAll verifies the factories of every authority in order.
func (v *FactoryVerifier) VerifyAll(ctx context.Context, authorities []string) ([]*Report, error) {
	reports := make([]*Report, 0, len(authorities))
	for _, authority := range authorities {
		r, err := v.VerifyFactory(ctx, authority)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (v *FactoryVerifier) verifyRecord(ctx context.Context, rec *domain.TokenRecord) (*TokenResult, error) {
	mint, err := v.ledger.GetMint(ctx, rec.Mint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("get mint %s: %w", rec.Mint, err)
		}
		mint = nil
	}

	events, err := v.events.GetByMint(ctx, rec.Mint)
	if err != nil {
		return nil, fmt.Errorf("events of %s: %w", rec.Mint, err)
	}
	var created *domain.EventRecord
	for _, e := range events {
		if e.Kind == domain.EventKindTokenCreated {
			created = e
			break
		}
	}

	divergences := CompareCreation(rec, mint, created)
	return &TokenResult{
		Index:       rec.Index,
		Mint:        rec.Mint,
		Match:       len(divergences) == 0,
		Divergences: divergences,
	}, nil
}
