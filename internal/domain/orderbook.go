package domain

// OrderBook is a two-sided snapshot of resting orders. The order of Bids and
// Asks is whatever the service sent; consumers must not assume it is sorted.
type OrderBook struct {
	Bids []Order `json:"bids"`
	Asks []Order `json:"asks"`
}
