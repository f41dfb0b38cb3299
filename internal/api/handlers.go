package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"hypertoken/internal/domain"
	"hypertoken/internal/eventbus"
	"hypertoken/internal/factory"
	"hypertoken/internal/storage"
)

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleInitializeFactory(w http.ResponseWriter, r *http.Request) {
	authority, _ := AuthorityFromContext(r.Context())

	res, err := s.svc.InitializeTokenFactory(r.Context(), authority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, InitializeFactoryResponse{
		Factory: toFactory(res.Factory),
		Receipt: toReceipt(res.Receipt),
	})
}

func (s *Server) handleGetFactory(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.Factory(r.Context(), chi.URLParam(r, "authority"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFactory(f))
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Tokens(r.Context(), chi.URLParam(r, "authority"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]TokenRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecentTokens(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}

	records, err := s.svc.RecentTokens(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]TokenRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreatorStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Name:      "NotConfigured",
			Message:   "analytics store is not configured",
			RequestID: RequestIDFromContext(r.Context()),
		})
		return
	}

	st, err := s.stats.CreatorStats(r.Context(), chi.URLParam(r, "authority"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CreatorStatsResponse{
		Authority:       st.Authority,
		TokensCreated:   st.TokensCreated,
		MetadataUpdates: st.MetadataUpdates,
		TotalSupply:     st.TotalSupply,
		FirstSlot:       st.FirstSlot,
		LastSlot:        st.LastSlot,
	})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	authority, _ := AuthorityFromContext(r.Context())

	var req CreateTokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Out-of-range decimals still go through program validation so that name and
	// symbol errors take precedence.
	decimals := uint8(math.MaxUint8)
	if req.Decimals >= 0 && req.Decimals <= math.MaxUint8 {
		decimals = uint8(req.Decimals)
	}

	res, err := s.svc.CreateToken(r.Context(), authority, factory.CreateTokenParams{
		Name:          req.Name,
		Symbol:        req.Symbol,
		URI:           req.URI,
		Decimals:      decimals,
		InitialSupply: req.InitialSupply,
		Mint:          req.Mint,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateTokenResponse{
		Mint:         res.Mint,
		TokenAccount: res.TokenAccount,
		TokenCount:   res.Factory.TokenCount,
		Event:        firstEvent(res.Receipt),
		Receipt:      toReceipt(res.Receipt),
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mintAddr := chi.URLParam(r, "mint")

	m, err := s.svc.Mint(ctx, mintAddr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := TokenResponse{
		Mint:            m.Address,
		Decimals:        m.Decimals,
		Supply:          m.Supply,
		SupplyUI:        domain.FormatUIAmount(m.Supply, m.Decimals),
		MintAuthority:   m.MintAuthority,
		FreezeAuthority: m.FreezeAuthority,
		IsInitialized:   m.IsInitialized,
	}

	rec, err := s.svc.TokenRecord(ctx, mintAddr)
	switch {
	case err == nil:
		record := toRecord(rec)
		resp.Record = &record
	case !errors.Is(err, storage.ErrNotFound):
		s.writeError(w, r, err)
		return
	}

	md, err := s.svc.LatestMetadata(ctx, mintAddr)
	switch {
	case err == nil:
		resp.Metadata = toMetadata(md)
	case !errors.Is(err, storage.ErrNotFound):
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	authority, _ := AuthorityFromContext(r.Context())

	var req UpdateMetadataRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.UpdateTokenMetadata(r.Context(), authority, factory.UpdateTokenMetadataParams{
		Mint:   chi.URLParam(r, "mint"),
		Name:   req.Name,
		Symbol: req.Symbol,
		URI:    req.URI,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateMetadataResponse{
		Event:   firstEvent(res.Receipt),
		Receipt: toReceipt(res.Receipt),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.Events(r.Context(), chi.URLParam(r, "mint"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]*eventbus.EventMessage, 0, len(events))
	for _, e := range events {
		resp = append(resp, eventbus.ToMessage(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mintAddr := chi.URLParam(r, "mint")

	acct, err := s.svc.Holding(ctx, chi.URLParam(r, "owner"), mintAddr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.svc.Mint(ctx, mintAddr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toHolding(acct, m.Decimals))
}

func (s *Server) handleListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.svc.Holdings(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]HoldingResponse, 0, len(holdings))
	for _, h := range holdings {
		resp = append(resp, toHolding(h.Account, h.Decimals))
	}
	writeJSON(w, http.StatusOK, resp)
}
