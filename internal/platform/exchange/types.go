package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// --------------------------------------------------------------------------
// Wire DTOs
// --------------------------------------------------------------------------

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type errorResponse struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (e errorResponse) reason() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

type submitRequest struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	OrderType string          `json:"order_type"`
	Side      domain.Side     `json:"side"`
}

type submitResponse struct {
	Order  wireOrder   `json:"order"`
	Trades []wireTrade `json:"trades"`
}

type wireBook struct {
	Bids []wireOrder `json:"bids"`
	Asks []wireOrder `json:"asks"`
}

// wireOrder accepts the service's snake_case fields as well as the side and
// camelCase spellings some deployments use.
type wireOrder struct {
	ID           int64           `json:"id"`
	User         string          `json:"user"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	OrderType    string          `json:"order_type"`
	OrderTypeAlt string          `json:"orderType"`
	Side         string          `json:"side"`
	Timestamp    wireTime        `json:"timestamp"`
	IsActive     *bool           `json:"is_active"`
	IsActiveAlt  *bool           `json:"isActive"`
}

func (w wireOrder) toDomain() (domain.Order, error) {
	raw := firstNonEmpty(w.OrderType, w.OrderTypeAlt, w.Side)
	side, ok := domain.ParseSide(raw)
	if !ok {
		return domain.Order{}, fmt.Errorf("order %d: unknown side %q", w.ID, raw)
	}
	active := w.IsActive
	if active == nil {
		active = w.IsActiveAlt
	}
	return domain.Order{
		ID:        w.ID,
		User:      w.User,
		Price:     w.Price,
		Quantity:  w.Quantity,
		Side:      side,
		Timestamp: w.Timestamp.ptr(),
		Active:    active,
	}, nil
}

type wireTrade struct {
	ID        int64           `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp wireTime        `json:"timestamp"`
	BidUser   string          `json:"bid_user"`
	AskUser   string          `json:"ask_user"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
}

func (w wireTrade) toDomain() domain.Trade {
	return domain.Trade{
		ID:        w.ID,
		Price:     w.Price,
		Quantity:  w.Quantity,
		Timestamp: w.Timestamp.Time,
		Buyer:     firstNonEmpty(w.BidUser, w.Buyer),
		Seller:    firstNonEmpty(w.AskUser, w.Seller),
	}
}

func ordersToDomain(in []wireOrder) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(in))
	for _, w := range in {
		o, err := w.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// wireTime parses the ISO-8601 timestamps the service emits. Timestamps
// without a zone are taken as UTC.
type wireTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", s)
}

func (t wireTime) ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
