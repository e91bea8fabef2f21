package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/submit"
)

// OrderService is what the order endpoints need from the dashboard.
type OrderService interface {
	Submit(ctx context.Context, form submit.Form) (domain.Order, error)
	FormStatus() submit.Status
}

// OrderHandler serves order entry.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// placeOrderRequest carries the form fields as the user typed them; price and
// quantity are validated by the submission flow.
type placeOrderRequest struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Side     string `json:"side"`
}

type placeOrderResponse struct {
	Order  domain.Order  `json:"order"`
	Status submit.Status `json:"status"`
}

// PlaceOrder runs the submission flow.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	order, err := h.orders.Submit(r.Context(), submit.Form{
		Price:    req.Price,
		Quantity: req.Quantity,
		Side:     domain.Side(req.Side),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{Order: order, Status: h.orders.FormStatus()})
}

// Form returns the order form state, including the last success message.
// GET /api/orders/form
func (h *OrderHandler) Form(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orders.FormStatus())
}
