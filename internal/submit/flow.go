// Package submit runs the order entry form: local validation, submission, and
// the follow-up refresh of the affected feeds.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/metrics"
	"github.com/alanyoungcy/orderdesk/internal/notify"
)

// DefaultSuccessClear is how long a success message stays visible.
const DefaultSuccessClear = 3 * time.Second

const (
	msgMissingFields = "Please fill in all fields"
	msgNotPositive   = "Price and quantity must be positive numbers"
)

// Error kinds reported in Status.ErrorKind.
const (
	KindValidation = "validation"
	KindAuth       = "auth"
	KindRejected   = "rejected"
	KindFetch      = "fetch"
)

// Submitter places orders on the service.
type Submitter interface {
	SubmitOrder(ctx context.Context, price, quantity decimal.Decimal, side domain.Side) (domain.Order, error)
}

// Refresher requests out-of-cycle refreshes of the book and user-orders
// feeds.
type Refresher interface {
	RefreshAfterSubmit()
}

// Form holds the raw user input. Price and Quantity are kept as typed so a
// failed submission leaves the user's text untouched.
type Form struct {
	Price    string      `json:"price"`
	Quantity string      `json:"quantity"`
	Side     domain.Side `json:"side"`
}

// Status is the form's display state.
type Status struct {
	Form       Form          `json:"form"`
	Submitting bool          `json:"submitting"`
	Message    string        `json:"message,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	LastOrder  *domain.Order `json:"last_order,omitempty"`
}

// Config tunes the flow.
type Config struct {
	SuccessClear time.Duration
}

// Flow is the order entry state machine. It is safe for concurrent use; a
// second Submit while one is in flight is rejected.
type Flow struct {
	client     Submitter
	refresher  Refresher
	notifier   *notify.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clearAfter time.Duration

	mu     sync.Mutex
	status Status
	// msgGen invalidates pending message clears when a newer message lands.
	msgGen uint64
}

// New creates a flow with an empty buy form. notifier and m may be nil.
func New(cfg Config, client Submitter, refresher Refresher, notifier *notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Flow {
	clearAfter := cfg.SuccessClear
	if clearAfter <= 0 {
		clearAfter = DefaultSuccessClear
	}
	return &Flow{
		client:     client,
		refresher:  refresher,
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With(slog.String("component", "submit")),
		clearAfter: clearAfter,
		status:     Status{Form: Form{Side: domain.SideBuy}},
	}
}

// Status returns the current form state.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// SetForm replaces the form fields.
func (f *Flow) SetForm(form Form) {
	f.mu.Lock()
	f.status.Form = form
	f.mu.Unlock()
}

// SubmitForm sets the form and submits it.
func (f *Flow) SubmitForm(ctx context.Context, form Form) (domain.Order, error) {
	f.SetForm(form)
	return f.Submit(ctx)
}

// Submit validates the current form and places the order. On success the
// form is cleared, a message is shown for the configured duration, and the
// book and user orders are refreshed. On failure the form is left intact and
// the error is reported in Status and returned.
func (f *Flow) Submit(ctx context.Context) (domain.Order, error) {
	f.mu.Lock()
	if f.status.Submitting {
		f.mu.Unlock()
		return domain.Order{}, &domain.ValidationError{Field: "form", Message: "an order is already being submitted"}
	}
	form := f.status.Form
	price, qty, side, verr := parse(form)
	if verr != nil {
		f.setErrorLocked(verr)
		f.mu.Unlock()
		return domain.Order{}, verr
	}
	f.status.Submitting = true
	f.status.Error, f.status.ErrorKind = "", ""
	f.mu.Unlock()

	order, err := f.client.SubmitOrder(ctx, price, qty, side)

	f.mu.Lock()
	f.status.Submitting = false
	if err != nil {
		f.setErrorLocked(err)
		f.mu.Unlock()
		f.report(ctx, side, err)
		return domain.Order{}, err
	}

	f.status.Form = Form{Side: form.Side}
	f.status.LastOrder = &order
	f.status.Message = fmt.Sprintf("Successfully placed %s order", verb(side))
	f.msgGen++
	gen := f.msgGen
	f.mu.Unlock()

	time.AfterFunc(f.clearAfter, func() { f.clearMessage(gen) })
	if f.refresher != nil {
		f.refresher.RefreshAfterSubmit()
	}
	f.report(ctx, side, nil)
	return order, nil
}

func (f *Flow) clearMessage(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgGen == gen {
		f.status.Message = ""
	}
}

func (f *Flow) setErrorLocked(err error) {
	f.msgGen++
	f.status.Message = ""
	f.status.Error = err.Error()
	f.status.ErrorKind = kindOf(err)
}

func (f *Flow) report(ctx context.Context, side domain.Side, err error) {
	result := "ok"
	if err != nil {
		result = kindOf(err)
	}
	if f.metrics != nil {
		f.metrics.OrdersSubmitted.WithLabelValues(string(side), result).Inc()
	}

	f.mu.Lock()
	form, order := f.status.Form, f.status.LastOrder
	f.mu.Unlock()

	var event, title, body string
	if err != nil {
		f.logger.Warn("order submission failed",
			slog.String("side", string(side)),
			slog.String("kind", result),
			slog.String("error", err.Error()),
		)
		event, title = notify.EventOrderFailed, "Order failed"
		body = fmt.Sprintf("%s %s @ %s: %v", side, form.Quantity, form.Price, err)
	} else {
		event, title = notify.EventOrderPlaced, "Order placed"
		body = fmt.Sprintf("#%d %s %s @ %s", order.ID, order.Side, order.Quantity, order.Price)
	}
	if nerr := f.notifier.Notify(ctx, event, title, body); nerr != nil {
		f.logger.Warn("notification failed", slog.String("error", nerr.Error()))
	}
}

// parse validates the form locally, before any network I/O.
func parse(form Form) (decimal.Decimal, decimal.Decimal, domain.Side, error) {
	if strings.TrimSpace(form.Price) == "" || strings.TrimSpace(form.Quantity) == "" || form.Side == "" {
		return decimal.Zero, decimal.Zero, "", &domain.ValidationError{Field: "form", Message: msgMissingFields}
	}
	side, ok := domain.ParseSide(string(form.Side))
	if !ok {
		return decimal.Zero, decimal.Zero, "", &domain.ValidationError{Field: "side", Message: fmt.Sprintf("unknown side %q", form.Side)}
	}
	price, perr := decimal.NewFromString(strings.TrimSpace(form.Price))
	qty, qerr := decimal.NewFromString(strings.TrimSpace(form.Quantity))
	if perr != nil || qerr != nil || !price.IsPositive() || !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, "", &domain.ValidationError{Field: "form", Message: msgNotPositive}
	}
	return price, qty, side, nil
}

func kindOf(err error) string {
	var (
		ve *domain.ValidationError
		ae *domain.AuthError
		or *domain.OrderRejected
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		return KindAuth
	case errors.As(err, &or):
		return KindRejected
	default:
		return KindFetch
	}
}

func verb(side domain.Side) string {
	if side == domain.SideSell {
		return "sell"
	}
	return "buy"
}
