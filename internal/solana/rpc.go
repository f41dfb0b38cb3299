package solana

import "context"

// RPCClient is the subset of Solana's HTTP JSON-RPC used to catch up on history.
type RPCClient interface {
	// GetSignaturesForAddress lists signatures mentioning address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTransaction retrieves a confirmed transaction. Returns nil if unknown.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       any
}

// SignaturesOpts are the pagination parameters of getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // start searching backwards from this signature
	Until  string // stop at this signature
	Limit  int    // at most 1000
}

// Transaction is a confirmed transaction with its logs.
type Transaction struct {
	Signature string
	Slot      int64
	BlockTime *int64 // unix seconds
	Err       any
	Logs      []string
}

// Notification converts the transaction into the shape delivered by logsSubscribe.
func (t *Transaction) Notification() LogNotification {
	return LogNotification{
		Signature: t.Signature,
		Slot:      t.Slot,
		Logs:      t.Logs,
		Err:       t.Err,
		BlockTime: t.BlockTime,
	}
}
