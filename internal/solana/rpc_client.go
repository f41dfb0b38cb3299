package solana

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultRPCTimeout = 30 * time.Second
	defaultAttempts   = 4
	defaultFirstDelay = time.Second
	defaultMaxDelay   = 10 * time.Second
)

// backoff doubles the wait between attempts up to a ceiling.
type backoff struct {
	first time.Duration
	max   time.Duration
}

func (b backoff) delay(retry int) time.Duration {
	d := b.first
	for i := 1; i < retry && d < b.max; i++ {
		d *= 2
	}
	return min(d, b.max)
}

// HTTPClient implements RPCClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	commitment string
	http       *http.Client
	attempts   int
	backoff    backoff
	nextID     atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.http.Timeout = d }
}

// WithMaxRetries sets how many times a failed attempt is repeated.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.attempts = n + 1 }
}

// WithRetryDelay sets the first and the largest wait between attempts.
func WithRetryDelay(first, max time.Duration) ClientOption {
	return func(c *HTTPClient) { c.backoff = backoff{first: first, max: max} }
}

// WithCommitment sets the commitment sent with every request.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) { c.commitment = commitment }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) { c.http = client }
}

// NewHTTPClient creates a JSON-RPC client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		commitment: "confirmed",
		http:       &http.Client{Timeout: defaultRPCTimeout},
		attempts:   defaultAttempts,
		backoff:    backoff{first: defaultFirstDelay, max: defaultMaxDelay},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

// RPCError is an error object returned by the node. It is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// errTransient marks failures worth another attempt.
var errTransient = errors.New("transient")

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call posts one JSON-RPC request and decodes its result into out.
func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	var last error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.backoff.delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		var env envelope
		last = c.post(ctx, payload, &env)
		if errors.Is(last, errTransient) {
			continue
		}
		if last != nil {
			return fmt.Errorf("%s: %w", method, last)
		}
		if env.Error != nil {
			return env.Error
		}
		if out == nil || len(env.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
	return fmt.Errorf("%s: max retries exceeded: %w", method, last)
}

// post performs a single HTTP round trip. Errors wrapping errTransient may be retried.
func (c *HTTPClient) post(ctx context.Context, payload []byte, env *envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.Unmarshal(body, env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", errTransient, err)
	}
	return nil
}

type signaturesConfig struct {
	Commitment string `json:"commitment"`
	Before     string `json:"before,omitempty"`
	Until      string `json:"until,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type signatureEntry struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Err       any    `json:"err"`
}

// GetSignaturesForAddress lists signatures mentioning address, newest first.
func (c *HTTPClient) GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error) {
	cfg := signaturesConfig{Commitment: c.commitment}
	if opts != nil {
		cfg.Before, cfg.Until, cfg.Limit = opts.Before, opts.Until, opts.Limit
	}

	var entries []signatureEntry
	if err := c.call(ctx, "getSignaturesForAddress", []any{address, cfg}, &entries); err != nil {
		return nil, err
	}

	infos := make([]SignatureInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, SignatureInfo(e))
	}
	return infos, nil
}

type transactionConfig struct {
	Encoding                       string `json:"encoding"`
	Commitment                     string `json:"commitment"`
	MaxSupportedTransactionVersion int    `json:"maxSupportedTransactionVersion"`
}

type transactionEntry struct {
	Slot      int64  `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err         any      `json:"err"`
		LogMessages []string `json:"logMessages"`
	} `json:"meta"`
}

// GetTransaction retrieves a confirmed transaction with its logs. Returns nil if the
// node does not know the signature.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	cfg := transactionConfig{Encoding: "json", Commitment: c.commitment}

	var entry *transactionEntry
	if err := c.call(ctx, "getTransaction", []any{signature, cfg}, &entry); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	tx := &Transaction{Signature: signature, Slot: entry.Slot, BlockTime: entry.BlockTime}
	if entry.Meta != nil {
		tx.Err = entry.Meta.Err
		tx.Logs = entry.Meta.LogMessages
	}
	return tx, nil
}

var _ RPCClient = (*HTTPClient)(nil)
