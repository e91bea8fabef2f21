package aggregate

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// TradeRow is one execution on the tape.
type TradeRow struct {
	ID        int64           `json:"id,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notional  decimal.Decimal `json:"notional"`
	Timestamp time.Time       `json:"timestamp"`
	Buyer     string          `json:"buyer,omitempty"`
	Seller    string          `json:"seller,omitempty"`
}

// TapeView is the trade history, newest first.
type TapeView struct {
	Trades    []TradeRow       `json:"trades"`
	Count     int              `json:"count"`
	Volume    decimal.Decimal  `json:"volume"`
	Notional  decimal.Decimal  `json:"notional"`
	LastPrice *decimal.Decimal `json:"last_price,omitempty"`
	VWAP      *decimal.Decimal `json:"vwap,omitempty"`
}

// Tape sorts trades newest first and computes totals. LastPrice is the price
// of the newest trade; VWAP is nil when no quantity traded.
func Tape(trades []domain.Trade) TapeView {
	v := TapeView{
		Trades:   make([]TradeRow, len(trades)),
		Count:    len(trades),
		Volume:   decimal.Zero,
		Notional: decimal.Zero,
	}
	for i, t := range trades {
		n := t.Notional()
		v.Trades[i] = TradeRow{
			ID:        t.ID,
			Price:     t.Price,
			Quantity:  t.Quantity,
			Notional:  n,
			Timestamp: t.Timestamp,
			Buyer:     t.Buyer,
			Seller:    t.Seller,
		}
		v.Volume = v.Volume.Add(t.Quantity)
		v.Notional = v.Notional.Add(n)
	}
	slices.SortStableFunc(v.Trades, func(a, b TradeRow) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	if len(v.Trades) > 0 {
		last := v.Trades[0].Price
		v.LastPrice = &last
	}
	if !v.Volume.IsZero() {
		vwap := v.Notional.Div(v.Volume)
		v.VWAP = &vwap
	}
	return v
}
