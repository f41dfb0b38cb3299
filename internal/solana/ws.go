// Package solana provides clients for a Solana cluster: a websocket logsSubscribe feed
// and a JSON-RPC client for catching up on past transactions.
package solana

import "context"

// LogsSubscriber streams program logs from a cluster.
type LogsSubscriber interface {
	// SubscribeLogs subscribes to transaction logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the connection and every subscription channel.
	Close() error
}

// LogsFilter selects which transaction logs are delivered.
type LogsFilter struct {
	// Mentions restricts delivery to transactions mentioning these accounts.
	// An empty list subscribes to all transactions.
	Mentions []string
}

func (f LogsFilter) params() map[string]any {
	if len(f.Mentions) > 0 {
		return map[string]any{"mentions": f.Mentions}
	}
	return map[string]any{"all": nil}
}

// LogNotification is one transaction's logs.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	// Err is non-nil when the transaction failed.
	Err any
	// BlockTime is the block's unix time in seconds when known. Live notifications lack it.
	BlockTime *int64
}

// Failed reports whether the transaction was rolled back.
func (n LogNotification) Failed() bool {
	return n.Err != nil
}
