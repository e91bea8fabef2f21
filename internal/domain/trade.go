package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an execution reported on the public tape. Trades are immutable and
// append-only from the client's point of view.
type Trade struct {
	ID        int64           `json:"id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
	Buyer     string          `json:"buyer,omitempty"`
	Seller    string          `json:"seller,omitempty"`
}

// Notional returns price × quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
