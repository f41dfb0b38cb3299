package watcher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/solana"
)

// signaturesPageSize is the getSignaturesForAddress maximum.
const signaturesPageSize = 1000

// BackfillResult summarizes a catch-up run.
type BackfillResult struct {
	Signatures int // signatures examined
	Fetched    int // transactions fetched
	Missing    int // signatures the node could not return
	Events     []*domain.EventRecord
}

// Backfill catches up on transactions that mention the program but were not seen live,
// for example while the watcher was down. It walks signatures newest first until it
// reaches one whose events are already stored or limit signatures have been examined,
// then ingests them oldest first through Handle. Running it concurrently with Run is safe.
func (w *Watcher) Backfill(ctx context.Context, rpc solana.RPCClient, limit int) (*BackfillResult, error) {
	if limit <= 0 {
		return &BackfillResult{}, nil
	}

	pending, err := w.unseenSignatures(ctx, rpc, limit)
	if err != nil {
		return nil, err
	}
	res := &BackfillResult{Signatures: len(pending)}

	for i := len(pending) - 1; i >= 0; i-- {
		sig := pending[i]

		n := solana.LogNotification{Signature: sig.Signature, Slot: sig.Slot, Err: sig.Err, BlockTime: sig.BlockTime}
		if !n.Failed() {
			tx, err := rpc.GetTransaction(ctx, sig.Signature)
			if err != nil {
				return res, fmt.Errorf("get transaction %s: %w", sig.Signature, err)
			}
			if tx == nil {
				res.Missing++
				w.logger.WithField("signature", sig.Signature).Warn("transaction not available for backfill")
				continue
			}
			res.Fetched++
			n = tx.Notification()
		}

		stored, err := w.Handle(ctx, n)
		res.Events = append(res.Events, stored...)
		if err != nil {
			return res, err
		}
	}

	w.logger.WithFields(logrus.Fields{
		"signatures": res.Signatures,
		"fetched":    res.Fetched,
		"missing":    res.Missing,
		"events":     len(res.Events),
	}).Info("backfill complete")
	return res, nil
}

// unseenSignatures returns signatures newer than the newest stored one, newest first.
func (w *Watcher) unseenSignatures(ctx context.Context, rpc solana.RPCClient, limit int) ([]solana.SignatureInfo, error) {
	var pending []solana.SignatureInfo
	before := ""

	for len(pending) < limit {
		pageSize := limit - len(pending)
		if pageSize > signaturesPageSize {
			pageSize = signaturesPageSize
		}

		page, err := rpc.GetSignaturesForAddress(ctx, w.programID, &solana.SignaturesOpts{Before: before, Limit: pageSize})
		if err != nil {
			return nil, fmt.Errorf("get signatures: %w", err)
		}
		if len(page) == 0 {
			return pending, nil
		}

		for _, sig := range page {
			known, err := w.events.GetBySignature(ctx, sig.Signature)
			if err != nil {
				return nil, fmt.Errorf("lookup %s: %w", sig.Signature, err)
			}
			if len(known) > 0 {
				return pending, nil
			}
			pending = append(pending, sig)
			if len(pending) == limit {
				return pending, nil
			}
		}

		if len(page) < pageSize {
			return pending, nil
		}
		before = page[len(page)-1].Signature
	}
	return pending, nil
}
