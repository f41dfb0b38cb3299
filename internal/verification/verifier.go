// Package verification cross-checks factory state against the token registry and the
// event log. Every create_token leaves three traces (counter, registry entry, TokenCreated
// event) and a mint owned by the token program; a verified factory has all four in agreement.
package verification

import (
	"fmt"

	"hypertoken/internal/domain"
)

// Divergence is a mismatch between two records that describe the same token.
type Divergence struct {
	Field    string      // field name
	Expected interface{} // value from the registry or ledger
	Actual   interface{} // value from the event log or mint
}

func (d Divergence) String() string {
	return fmt.Sprintf("%s: expected %v, got %v", d.Field, d.Expected, d.Actual)
}

// TokenResult is the verification outcome of one registry entry.
type TokenResult struct {
	Index       uint64
	Mint        string
	Match       bool
	Divergences []Divergence
}

// Report is the verification outcome of one factory.
type Report struct {
	Authority      string
	Factory        string
	TokenCount     uint64
	RegistryLength int
	Problems       []string // factory-level inconsistencies
	Tokens         []TokenResult
	DivergentCount int
}

// OK reports whether the factory and every token verified cleanly.
func (r *Report) OK() bool {
	return len(r.Problems) == 0 && r.DivergentCount == 0
}

// CompareCreation compares a registry entry with the mint state and the TokenCreated
// event of the same mint. ev and mint may be nil when missing.
func CompareCreation(rec *domain.TokenRecord, mint *domain.Mint, ev *domain.EventRecord) []Divergence {
	var divergences []Divergence

	if mint == nil {
		divergences = append(divergences, Divergence{Field: "Mint", Expected: rec.Mint, Actual: nil})
	} else if !mint.IsInitialized {
		divergences = append(divergences, Divergence{Field: "Mint.IsInitialized", Expected: true, Actual: false})
	}

	if ev == nil {
		return append(divergences, Divergence{Field: "Event", Expected: domain.EventKindTokenCreated, Actual: nil})
	}

	if ev.Authority != rec.Creator {
		divergences = append(divergences, Divergence{Field: "Creator", Expected: rec.Creator, Actual: ev.Authority})
	}
	if ev.Signature != rec.Signature {
		divergences = append(divergences, Divergence{Field: "Signature", Expected: rec.Signature, Actual: ev.Signature})
	}
	if ev.Slot != rec.Slot {
		divergences = append(divergences, Divergence{Field: "Slot", Expected: rec.Slot, Actual: ev.Slot})
	}

	if mint != nil {
		if ev.Decimals == nil || *ev.Decimals != mint.Decimals {
			divergences = append(divergences, Divergence{Field: "Decimals", Expected: mint.Decimals, Actual: derefU8(ev.Decimals)})
		}
		// Supply only grows after creation.
		if ev.InitialSupply == nil || *ev.InitialSupply > mint.Supply {
			divergences = append(divergences, Divergence{Field: "InitialSupply", Expected: mint.Supply, Actual: derefU64(ev.InitialSupply)})
		}
	}

	return divergences
}

func derefU8(v *uint8) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func derefU64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
