package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/livegraph/internal/engine"
	"github.com/roach88/livegraph/internal/identity"
	"github.com/roach88/livegraph/internal/livequery"
	"github.com/roach88/livegraph/internal/txn"
)

// Error codes for failures that are not transaction rejections.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure. OpIndex is set for transaction rejections
// tied to one op.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	OpIndex *int   `json:"op_index,omitempty"`
}

var txnStatus = map[txn.Code]int{
	txn.CodeValidation:       http.StatusBadRequest,
	txn.CodePermissionDenied: http.StatusForbidden,
	txn.CodeUniqueness:       http.StatusConflict,
	txn.CodeNotFound:         http.StatusNotFound,
	txn.CodeConflict:         http.StatusConflict,
	txn.CodeQuota:            http.StatusRequestEntityTooLarge,
}

// classify maps an error to an HTTP status and response detail.
func classify(err error) (int, ErrorDetail) {
	var te *txn.Error
	if errors.As(err, &te) {
		detail := ErrorDetail{Code: string(te.Code), Message: err.Error()}
		if te.OpIndex >= 0 {
			idx := te.OpIndex
			detail.OpIndex = &idx
		}
		if status, ok := txnStatus[te.Code]; ok {
			return status, detail
		}
		return http.StatusBadRequest, detail
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, livequery.ErrInvalidQuery),
		errors.Is(err, identity.ErrInvalidIdentifier),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, ErrorDetail{Code: CodeBadRequest, Message: err.Error()}
	case errors.Is(err, identity.ErrInvalidSession), errors.Is(err, errGuest):
		return http.StatusUnauthorized, ErrorDetail{Code: CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, ErrorDetail{Code: CodeUnavailable, Message: err.Error()}
	}
	return http.StatusInternalServerError, ErrorDetail{Code: CodeInternal, Message: "internal error"}
}

var (
	errBadRequest = errors.New("bad request")
	errGuest      = errors.New("not signed in")
)

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
