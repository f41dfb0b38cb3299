package solana

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// rpcServer answers every request with handler's result or error.
func rpcServer(t *testing.T, handler func(req capturedRequest) (result any, rpcErr *RPCError, status int)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req capturedRequest
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr, status := handler(req)
		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func fastClient(url string) *HTTPClient {
	return NewHTTPClient(url, WithRetryDelay(time.Millisecond, 5*time.Millisecond), WithMaxRetries(2))
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	var captured capturedRequest
	server, _ := rpcServer(t, func(req capturedRequest) (any, *RPCError, int) {
		captured = req
		return []map[string]any{
			{"signature": "sig2", "slot": 20, "blockTime": 1700000020, "err": nil},
			{"signature": "sig1", "slot": 10, "blockTime": nil, "err": map[string]any{"InstructionError": []any{0, "Custom"}}},
		}, nil, 0
	})

	client := NewHTTPClient(server.URL, WithCommitment("finalized"))
	sigs, err := client.GetSignaturesForAddress(context.Background(), "Prog111", &SignaturesOpts{Before: "sig3", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, "getSignaturesForAddress", captured.Method)
	require.Len(t, captured.Params, 2)
	var address string
	require.NoError(t, json.Unmarshal(captured.Params[0], &address))
	assert.Equal(t, "Prog111", address)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(captured.Params[1], &cfg))
	assert.Equal(t, "sig3", cfg["before"])
	assert.Equal(t, float64(2), cfg["limit"])
	assert.Equal(t, "finalized", cfg["commitment"])
	assert.NotContains(t, cfg, "until")

	require.Len(t, sigs, 2)
	assert.Equal(t, "sig2", sigs[0].Signature)
	assert.Equal(t, int64(20), sigs[0].Slot)
	require.NotNil(t, sigs[0].BlockTime)
	assert.Equal(t, int64(1700000020), *sigs[0].BlockTime)
	assert.Nil(t, sigs[0].Err)
	assert.Nil(t, sigs[1].BlockTime)
	assert.NotNil(t, sigs[1].Err)
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server, _ := rpcServer(t, func(req capturedRequest) (any, *RPCError, int) {
		var sig string
		_ = json.Unmarshal(req.Params[0], &sig)
		if sig == "missing" {
			return nil, nil, 0
		}
		return map[string]any{
			"slot":      42,
			"blockTime": 1700000000,
			"meta": map[string]any{
				"err":         nil,
				"logMessages": []string{"Program X invoke [1]", "Program X success"},
			},
		}, nil, 0
	})
	client := NewHTTPClient(server.URL)

	tx, err := client.GetTransaction(context.Background(), "sig1")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "sig1", tx.Signature)
	assert.Equal(t, int64(42), tx.Slot)
	assert.Len(t, tx.Logs, 2)
	assert.Nil(t, tx.Err)

	n := tx.Notification()
	assert.Equal(t, "sig1", n.Signature)
	assert.False(t, n.Failed())
	require.NotNil(t, n.BlockTime)
	assert.Equal(t, int64(1700000000), *n.BlockTime)

	tx, err = client.GetTransaction(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server, _ := rpcServer(t, func(capturedRequest) (any, *RPCError, int) {
		if attempts.Add(1) < 3 {
			return nil, nil, http.StatusServiceUnavailable
		}
		return []any{}, nil, 0
	})

	sigs, err := fastClient(server.URL).GetSignaturesForAddress(context.Background(), "Prog111", nil)
	require.NoError(t, err)
	assert.Empty(t, sigs)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	server, calls := rpcServer(t, func(capturedRequest) (any, *RPCError, int) {
		return nil, nil, http.StatusTooManyRequests
	})

	_, err := fastClient(server.URL).GetTransaction(context.Background(), "sig1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	server, calls := rpcServer(t, func(capturedRequest) (any, *RPCError, int) {
		return nil, &RPCError{Code: -32602, Message: "Invalid param"}, 0
	})

	_, err := fastClient(server.URL).GetTransaction(context.Background(), "bad")
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	server, calls := rpcServer(t, func(capturedRequest) (any, *RPCError, int) {
		return nil, nil, http.StatusBadRequest
	})

	_, err := fastClient(server.URL).GetTransaction(context.Background(), "sig1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
