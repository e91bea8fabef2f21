package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether an order buys or sells.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts the canonical BUY/SELL names as well as the bid/ask wire
// names used by the matching service. Matching is case-insensitive.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid":
		return SideBuy, true
	case "sell", "ask":
		return SideSell, true
	default:
		return "", false
	}
}

// WireName returns the order_type value the matching service expects.
func (s Side) WireName() string {
	if s == SideSell {
		return "ask"
	}
	return "bid"
}

// Order is a resting or historical order as reported by the matching service.
// Orders are never edited locally; the client only appends new ones or
// re-fetches the authoritative list.
type Order struct {
	ID        int64           `json:"id,omitempty"`
	User      string          `json:"user,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	// Active is nil when the feed omitted the flag.
	Active *bool `json:"active,omitempty"`
}

// IsActive reports the order's active flag. Orders whose feed omitted the
// flag are treated as active.
func (o Order) IsActive() bool {
	if o.Active == nil {
		return true
	}
	return *o.Active
}

// Notional returns price × quantity.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}
