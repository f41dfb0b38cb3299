package api

import (
	"encoding/base64"

	"github.com/blocto/solana-go-sdk/types"

	"hypertoken/internal/domain"
	"hypertoken/internal/eventbus"
	"hypertoken/internal/runtime"
)

// CreateTokenRequest is the body of POST /v1/tokens.
type CreateTokenRequest struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	URI           string `json:"uri"`
	Decimals      int    `json:"decimals"`
	InitialSupply uint64 `json:"initial_supply"`
	Mint          string `json:"mint,omitempty"`
}

// UpdateMetadataRequest is the body of PUT /v1/tokens/{mint}/metadata.
type UpdateMetadataRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

// InstructionResponse is one recorded instruction.
type InstructionResponse struct {
	ProgramID string   `json:"program_id"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"` // base64
}

// ReceiptResponse is a committed transaction.
type ReceiptResponse struct {
	Signature    string                `json:"signature"`
	Slot         uint64                `json:"slot"`
	BlockTime    int64                 `json:"block_time"`
	RentLamports uint64                `json:"rent_lamports"`
	Logs         []string              `json:"logs"`
	Instructions []InstructionResponse `json:"instructions"`
}

// FactoryResponse is a factory record.
type FactoryResponse struct {
	Address    string `json:"address"`
	Authority  string `json:"authority"`
	TokenCount uint64 `json:"token_count"`
	Bump       uint8  `json:"bump"`
}

// TokenRecordResponse is a registry entry.
type TokenRecordResponse struct {
	Index        uint64 `json:"index"`
	Factory      string `json:"factory"`
	Mint         string `json:"mint"`
	Creator      string `json:"creator"`
	TokenAccount string `json:"token_account"`
	Signature    string `json:"signature"`
	Slot         uint64 `json:"slot"`
	CreatedAt    int64  `json:"created_at"`
}

// MetadataResponse is the latest announced metadata of a mint.
type MetadataResponse struct {
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	URI       string `json:"uri"`
	Source    string `json:"source"`
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
}

// TokenResponse is a mint with its registry entry and announced metadata.
type TokenResponse struct {
	Mint            string               `json:"mint"`
	Decimals        uint8                `json:"decimals"`
	Supply          uint64               `json:"supply"`
	SupplyUI        string               `json:"supply_ui"`
	MintAuthority   *string              `json:"mint_authority"`
	FreezeAuthority *string              `json:"freeze_authority"`
	IsInitialized   bool                 `json:"is_initialized"`
	Record          *TokenRecordResponse `json:"record,omitempty"`
	Metadata        *MetadataResponse    `json:"metadata,omitempty"`
}

// HoldingResponse is an associated token account.
type HoldingResponse struct {
	Address  string `json:"address"`
	Mint     string `json:"mint"`
	Owner    string `json:"owner"`
	Amount   uint64 `json:"amount"`
	AmountUI string `json:"amount_ui"`
	Decimals uint8  `json:"decimals"`
	Frozen   bool   `json:"frozen"`
}

// InitializeFactoryResponse is the response of POST /v1/factories.
type InitializeFactoryResponse struct {
	Factory FactoryResponse `json:"factory"`
	Receipt ReceiptResponse `json:"receipt"`
}

// CreateTokenResponse is the response of POST /v1/tokens.
type CreateTokenResponse struct {
	Mint         string                 `json:"mint"`
	TokenAccount string                 `json:"token_account"`
	TokenCount   uint64                 `json:"token_count"`
	Event        *eventbus.EventMessage `json:"event"`
	Receipt      ReceiptResponse        `json:"receipt"`
}

// UpdateMetadataResponse is the response of PUT /v1/tokens/{mint}/metadata.
type UpdateMetadataResponse struct {
	Event   *eventbus.EventMessage `json:"event"`
	Receipt ReceiptResponse        `json:"receipt"`
}

// CreatorStatsResponse summarizes an authority's events.
type CreatorStatsResponse struct {
	Authority       string `json:"authority"`
	TokensCreated   uint64 `json:"tokens_created"`
	MetadataUpdates uint64 `json:"metadata_updates"`
	TotalSupply     uint64 `json:"total_supply"`
	FirstSlot       uint64 `json:"first_slot"`
	LastSlot        uint64 `json:"last_slot"`
}

func toReceipt(r *runtime.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		Signature:    r.Signature,
		Slot:         r.Slot,
		BlockTime:    r.BlockTime,
		RentLamports: r.RentLamports,
		Logs:         r.Logs,
		Instructions: make([]InstructionResponse, 0, len(r.Instructions)),
	}
	for _, ix := range r.Instructions {
		resp.Instructions = append(resp.Instructions, toInstruction(ix))
	}
	return resp
}

func toInstruction(ix types.Instruction) InstructionResponse {
	accounts := make([]string, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		accounts = append(accounts, a.PubKey.ToBase58())
	}
	return InstructionResponse{
		ProgramID: ix.ProgramID.ToBase58(),
		Accounts:  accounts,
		Data:      base64.StdEncoding.EncodeToString(ix.Data),
	}
}

func toFactory(f *domain.TokenFactory) FactoryResponse {
	return FactoryResponse{
		Address:    f.Address,
		Authority:  f.Authority,
		TokenCount: f.TokenCount,
		Bump:       f.Bump,
	}
}

func toRecord(r *domain.TokenRecord) TokenRecordResponse {
	return TokenRecordResponse{
		Index:        r.Index,
		Factory:      r.Factory,
		Mint:         r.Mint,
		Creator:      r.Creator,
		TokenAccount: r.TokenAccount,
		Signature:    r.Signature,
		Slot:         r.Slot,
		CreatedAt:    r.CreatedAt,
	}
}

func toHolding(a *domain.TokenAccount, decimals uint8) HoldingResponse {
	return HoldingResponse{
		Address:  a.Address,
		Mint:     a.Mint,
		Owner:    a.Owner,
		Amount:   a.Amount,
		AmountUI: domain.FormatUIAmount(a.Amount, decimals),
		Decimals: decimals,
		Frozen:   a.State == domain.TokenAccountFrozen,
	}
}

func toMetadata(md *domain.AnnouncedMetadata) *MetadataResponse {
	return &MetadataResponse{
		Name:      md.Name,
		Symbol:    md.Symbol,
		URI:       md.URI,
		Source:    md.Source.String(),
		Signature: md.Signature,
		Slot:      md.Slot,
	}
}

// firstEvent returns the wire form of the first event of a receipt.
func firstEvent(r *runtime.Receipt) *eventbus.EventMessage {
	if len(r.Events) == 0 {
		return nil
	}
	return eventbus.ToMessage(r.Events[0])
}
