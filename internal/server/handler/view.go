package handler

import (
	"net/http"

	"github.com/alanyoungcy/orderdesk/internal/dashboard"
	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/gate"
)

// ViewService is what the view endpoints need from the dashboard.
type ViewService interface {
	View() dashboard.View
	Refresh(name string) (<-chan struct{}, error)
}

// ViewHandler serves the dashboard panels.
type ViewHandler struct {
	views ViewService
}

// NewViewHandler creates a ViewHandler.
func NewViewHandler(views ViewService) *ViewHandler {
	return &ViewHandler{views: views}
}

// View returns the whole dashboard, including the session state.
// GET /api/view
func (h *ViewHandler) View(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.views.View())
}

// Book returns the order book panel.
// GET /api/book
func (h *ViewHandler) Book(w http.ResponseWriter, r *http.Request) {
	h.writeFeed(w, dashboard.FeedBook)
}

// Orders returns the signed-in user's orders panel.
// GET /api/orders
func (h *ViewHandler) Orders(w http.ResponseWriter, r *http.Request) {
	h.writeFeed(w, dashboard.FeedOrders)
}

// Trades returns the trade tape panel.
// GET /api/trades
func (h *ViewHandler) Trades(w http.ResponseWriter, r *http.Request) {
	h.writeFeed(w, dashboard.FeedTrades)
}

// Refresh fetches one feed out of cycle and returns it once the fetch has
// completed.
// POST /api/refresh/{feed}
func (h *ViewHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("feed")
	done, err := h.views.Refresh(name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	select {
	case <-done:
	case <-r.Context().Done():
		return
	}
	h.writeFeed(w, name)
}

func (h *ViewHandler) writeFeed(w http.ResponseWriter, name string) {
	v := h.views.View()
	if v.Session.State != gate.Authenticated {
		writeDomainError(w, &domain.AuthError{Reason: "not signed in", Err: domain.ErrNoCredential})
		return
	}
	switch name {
	case dashboard.FeedBook:
		writeJSON(w, http.StatusOK, v.Book)
	case dashboard.FeedOrders:
		writeJSON(w, http.StatusOK, v.Orders)
	default:
		writeJSON(w, http.StatusOK, v.Tape)
	}
}
