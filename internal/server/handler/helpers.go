// Package handler implements the local HTTP API over the dashboard.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/orderdesk/internal/archive"
	"github.com/alanyoungcy/orderdesk/internal/dashboard"
	"github.com/alanyoungcy/orderdesk/internal/domain"
)

const maxBodyBytes = 1 << 16

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps err onto a status code and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	var (
		ve *domain.ValidationError
		ae *domain.AuthError
		or *domain.OrderRejected
		fe *domain.FetchError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &ae):
		return http.StatusUnauthorized, "auth"
	case errors.As(err, &or):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "fetch"
	case errors.Is(err, dashboard.ErrUnknownFeed), errors.Is(err, archive.ErrDisabled):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, ""
	}
}

// decodeBody reads a JSON request body into v. Malformed input is a
// ValidationError.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: fmt.Sprintf("invalid request body: %v", err)}
	}
	return nil
}

// parseLimit reads ?limit=, defaulting to 50 and capped at 500.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, 500)
}
