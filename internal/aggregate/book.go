// Package aggregate turns raw service snapshots into display-ready views.
//
// Every function here is pure: no I/O, no clock, and the input is never
// mutated. Calling the same function twice on the same input yields equal
// views.
package aggregate

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// BookRow is one resting order on a ladder.
type BookRow struct {
	ID        int64           `json:"id,omitempty"`
	User      string          `json:"user,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notional  decimal.Decimal `json:"notional"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// SideSummary totals one side of the book.
type SideSummary struct {
	Count    int             `json:"count"`
	Volume   decimal.Decimal `json:"volume"`
	Notional decimal.Decimal `json:"notional"`
}

// BookView is the sorted book with derived top-of-book figures. The pointer
// fields are nil unless both sides are non-empty.
type BookView struct {
	Bids       []BookRow        `json:"bids"`
	Asks       []BookRow        `json:"asks"`
	BidSummary SideSummary      `json:"bid_summary"`
	AskSummary SideSummary      `json:"ask_summary"`
	BestBid    *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk    *decimal.Decimal `json:"best_ask,omitempty"`
	Spread     *decimal.Decimal `json:"spread,omitempty"`
	SpreadPct  *decimal.Decimal `json:"spread_pct,omitempty"`
	Mid        *decimal.Decimal `json:"mid,omitempty"`
}

// Book sorts bids by price descending and asks by price ascending. Orders at
// the same price keep the order the service sent them in.
func Book(ob domain.OrderBook) BookView {
	v := BookView{
		Bids: ladder(ob.Bids, func(a, b decimal.Decimal) int { return b.Cmp(a) }),
		Asks: ladder(ob.Asks, func(a, b decimal.Decimal) int { return a.Cmp(b) }),
	}
	v.BidSummary = summarize(v.Bids)
	v.AskSummary = summarize(v.Asks)

	if len(v.Bids) > 0 {
		best := v.Bids[0].Price
		v.BestBid = &best
	}
	if len(v.Asks) > 0 {
		best := v.Asks[0].Price
		v.BestAsk = &best
	}
	if v.BestBid == nil || v.BestAsk == nil {
		return v
	}

	spread := v.BestAsk.Sub(*v.BestBid)
	mid := v.BestAsk.Add(*v.BestBid).Div(decimal.NewFromInt(2))
	v.Spread = &spread
	v.Mid = &mid
	if !v.BestAsk.IsZero() {
		pct := spread.Div(*v.BestAsk).Mul(hundred)
		v.SpreadPct = &pct
	}
	return v
}

func ladder(orders []domain.Order, cmp func(a, b decimal.Decimal) int) []BookRow {
	rows := make([]BookRow, len(orders))
	for i, o := range orders {
		rows[i] = BookRow{
			ID:        o.ID,
			User:      o.User,
			Price:     o.Price,
			Quantity:  o.Quantity,
			Notional:  o.Notional(),
			Timestamp: o.Timestamp,
		}
	}
	slices.SortStableFunc(rows, func(a, b BookRow) int { return cmp(a.Price, b.Price) })
	return rows
}

func summarize(rows []BookRow) SideSummary {
	s := SideSummary{Count: len(rows), Volume: decimal.Zero, Notional: decimal.Zero}
	for _, r := range rows {
		s.Volume = s.Volume.Add(r.Quantity)
		s.Notional = s.Notional.Add(r.Notional)
	}
	return s
}
