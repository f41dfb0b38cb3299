package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	json "github.com/goccy/go-json"

	"hypertoken/internal/eventbus"
)

// APIError is a non-2xx response decoded by Client.
type APIError struct {
	Status int
	ErrorResponse
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%d %s (code %d): %s", e.Status, e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Name, e.Message)
}

// Client calls the API, signing mutating requests with an authority keypair.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *types.Account
	now     func() time.Time
}

// NewClient creates a client for baseURL. signer may be nil for read-only use.
func NewClient(baseURL string, signer *types.Account, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		signer:  signer,
		now:     time.Now,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, signed bool) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.signer == nil {
			return fmt.Errorf("%s %s requires a signer", method, path)
		}
		SignRequest(req, *c.signer, c.now().Unix(), body)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, &apiErr.ErrorResponse); err != nil {
			apiErr.Name = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// InitializeFactory creates the signer's factory.
func (c *Client) InitializeFactory(ctx context.Context) (*InitializeFactoryResponse, error) {
	var out InitializeFactoryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/factories", struct{}{}, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateToken creates a token through the signer's factory.
func (c *Client) CreateToken(ctx context.Context, req CreateTokenRequest) (*CreateTokenResponse, error) {
	var out CreateTokenResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tokens", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMetadata announces new metadata for mint.
func (c *Client) UpdateMetadata(ctx context.Context, mint string, req UpdateMetadataRequest) (*UpdateMetadataResponse, error) {
	var out UpdateMetadataResponse
	if err := c.do(ctx, http.MethodPut, "/v1/tokens/"+url.PathEscape(mint)+"/metadata", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Factory fetches the factory of authority.
func (c *Client) Factory(ctx context.Context, authority string) (*FactoryResponse, error) {
	var out FactoryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/factories/"+url.PathEscape(authority), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tokens lists the registry of authority's factory.
func (c *Client) Tokens(ctx context.Context, authority string) ([]TokenRecordResponse, error) {
	var out []TokenRecordResponse
	if err := c.do(ctx, http.MethodGet, "/v1/factories/"+url.PathEscape(authority)+"/tokens", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Token fetches a mint with its metadata.
func (c *Client) Token(ctx context.Context, mint string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.do(ctx, http.MethodGet, "/v1/tokens/"+url.PathEscape(mint), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events lists the event log of a mint.
func (c *Client) Events(ctx context.Context, mint string) ([]*eventbus.EventMessage, error) {
	var out []*eventbus.EventMessage
	if err := c.do(ctx, http.MethodGet, "/v1/tokens/"+url.PathEscape(mint)+"/events", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Holding fetches owner's associated account for mint.
func (c *Client) Holding(ctx context.Context, mint, owner string) (*HoldingResponse, error) {
	var out HoldingResponse
	path := "/v1/tokens/" + url.PathEscape(mint) + "/holders/" + url.PathEscape(owner)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Holdings lists every token account of owner.
func (c *Client) Holdings(ctx context.Context, owner string) ([]HoldingResponse, error) {
	var out []HoldingResponse
	if err := c.do(ctx, http.MethodGet, "/v1/owners/"+url.PathEscape(owner)+"/holdings", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentTokens lists the newest tokens across all factories. A zero limit
// leaves the choice to the server.
func (c *Client) RecentTokens(ctx context.Context, limit int) ([]TokenRecordResponse, error) {
	path := "/v1/tokens"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []TokenRecordResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the event statistics of authority.
func (c *Client) Stats(ctx context.Context, authority string) (*CreatorStatsResponse, error) {
	var out CreatorStatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/factories/"+url.PathEscape(authority)+"/stats", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}
