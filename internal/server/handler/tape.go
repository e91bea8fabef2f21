package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// TapeService reads the archived trade tape.
type TapeService interface {
	History(ctx context.Context, limit int) ([]domain.Trade, error)
}

// TapeHandler serves the archive.
type TapeHandler struct {
	tape     TapeService
	maxLimit int
	logger   *slog.Logger
}

// NewTapeHandler creates a TapeHandler. Requests asking for more than
// maxLimit trades are capped; zero leaves the default cap of 500.
func NewTapeHandler(tape TapeService, maxLimit int, logger *slog.Logger) *TapeHandler {
	return &TapeHandler{tape: tape, maxLimit: maxLimit, logger: logger}
}

type historyResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// History lists archived trades, newest first.
// GET /api/tape/history?limit=50
func (h *TapeHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	if h.maxLimit > 0 {
		limit = min(limit, h.maxLimit)
	}
	trades, err := h.tape.History(r.Context(), limit)
	if err != nil {
		status, _ := classify(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: tape history failed",
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to read tape history")
			return
		}
		writeDomainError(w, err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Trades: trades})
}
