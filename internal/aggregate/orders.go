package aggregate

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// Order statuses shown in the user's order list.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// OrderRow is one of the user's orders.
type OrderRow struct {
	ID        int64           `json:"id,omitempty"`
	Side      domain.Side     `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	Active    bool            `json:"active"`
	Status    string          `json:"status"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// OrdersView is the user's order list plus counts.
type OrdersView struct {
	Orders    []OrderRow `json:"orders"`
	Buys      int        `json:"buys"`
	Sells     int        `json:"sells"`
	Active    int        `json:"active"`
	Completed int        `json:"completed"`
}

// Orders lists the user's orders newest first. Orders without a timestamp
// follow the timestamped ones in the order they arrived. An order whose feed
// omitted the active flag counts as active.
func Orders(orders []domain.Order) OrdersView {
	v := OrdersView{Orders: make([]OrderRow, len(orders))}
	for i, o := range orders {
		active := o.IsActive()
		status := StatusCompleted
		if active {
			status = StatusActive
			v.Active++
		} else {
			v.Completed++
		}
		if o.Side == domain.SideBuy {
			v.Buys++
		} else {
			v.Sells++
		}
		v.Orders[i] = OrderRow{
			ID:        o.ID,
			Side:      o.Side,
			Price:     o.Price,
			Quantity:  o.Quantity,
			Total:     o.Notional(),
			Active:    active,
			Status:    status,
			Timestamp: o.Timestamp,
		}
	}
	slices.SortStableFunc(v.Orders, func(a, b OrderRow) int {
		return newestFirst(a.Timestamp, b.Timestamp)
	})
	return v
}

// newestFirst orders later timestamps first and nil timestamps last.
func newestFirst(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return b.Compare(*a)
	}
}
