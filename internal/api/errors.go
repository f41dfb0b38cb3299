package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/factory"
	"hypertoken/internal/runtime"
	"hypertoken/internal/storage"
	"hypertoken/internal/tokenprogram"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      uint32 `json:"code"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

var errBadRequest = errors.New("bad request")

// SPL token program error codes.
var tokenErrorCodes = []struct {
	err  error
	code uint32
	name string
}{
	{tokenprogram.ErrMintMismatch, 3, "MintMismatch"},
	{tokenprogram.ErrOwnerMismatch, 4, "OwnerMismatch"},
	{tokenprogram.ErrAlreadyInUse, 6, "AlreadyInUse"},
	{tokenprogram.ErrUninitializedState, 9, "UninitializedState"},
	{tokenprogram.ErrOverflow, 14, "Overflow"},
	{tokenprogram.ErrAccountFrozen, 17, "AccountFrozen"},
}

// classify maps err to an HTTP status and error body.
func classify(err error) (int, ErrorResponse) {
	if pe, ok := factory.AsProgramError(err); ok {
		status := http.StatusBadRequest
		if pe == factory.ErrUnauthorized {
			status = http.StatusForbidden
		}
		return status, ErrorResponse{Code: pe.Code, Name: pe.Name, Message: pe.Msg}
	}

	for _, t := range tokenErrorCodes {
		if errors.Is(err, t.err) {
			status := http.StatusBadRequest
			if t.err == tokenprogram.ErrAlreadyInUse {
				status = http.StatusConflict
			}
			return status, ErrorResponse{Code: t.code, Name: t.name, Message: err.Error()}
		}
	}

	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Name: "Unauthenticated", Message: err.Error()}
	case errors.Is(err, runtime.ErrAccountInUse), errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict, ErrorResponse{Name: "AccountInUse", Message: err.Error()}
	case errors.Is(err, runtime.ErrAccountNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Name: "AccountNotFound", Message: err.Error()}
	case errors.Is(err, factory.ErrInvalidAddress), errors.Is(err, storage.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, ErrorResponse{Name: "InvalidRequest", Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrorResponse{Name: "Cancelled", Message: err.Error()}
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, ErrorResponse{Name: "BodyTooLarge", Message: err.Error()}
		}
		return http.StatusInternalServerError, ErrorResponse{Name: "Internal", Message: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	body.RequestID = RequestIDFromContext(r.Context())

	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": body.RequestID,
		"status":     status,
		"path":       r.URL.Path,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	writeJSON(w, status, body)
}
