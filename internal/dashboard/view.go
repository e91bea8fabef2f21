package dashboard

import (
	"time"

	"github.com/alanyoungcy/orderdesk/internal/aggregate"
	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/gate"
	"github.com/alanyoungcy/orderdesk/internal/poller"
	"github.com/alanyoungcy/orderdesk/internal/submit"
)

// Feed names, also used as the kind of published updates.
const (
	FeedBook    = "book"
	FeedOrders  = "orders"
	FeedTrades  = "trades"
	KindSession = "session"
)

// FeedView is one panel of the dashboard.
type FeedView[T any] struct {
	State string `json:"state"`
	// Loading is true only before the first response; later fetches keep the
	// previous data on screen and set Refreshing instead.
	Loading    bool       `json:"loading"`
	Refreshing bool       `json:"refreshing"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	Data       *T         `json:"data,omitempty"`
}

// SessionView is the gate state as shown to the user.
type SessionView struct {
	State  gate.State   `json:"state"`
	User   *domain.User `json:"user,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// View is the complete dashboard.
type View struct {
	Session SessionView                   `json:"session"`
	Book    FeedView[aggregate.BookView]   `json:"book"`
	Orders  FeedView[aggregate.OrdersView] `json:"orders"`
	Tape    FeedView[aggregate.TapeView]   `json:"trades"`
	Form    submit.Status                  `json:"form"`
}

func feedView[T, V any](s poller.Snapshot[T], project func(T) V) FeedView[V] {
	v := FeedView[V]{
		State:      s.State.String(),
		Loading:    s.State == poller.StateLoading && !s.HasData,
		Refreshing: s.State == poller.StateLoading && s.HasData,
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	if !s.UpdatedAt.IsZero() {
		at := s.UpdatedAt.UTC()
		v.UpdatedAt = &at
	}
	if s.HasData {
		data := project(s.Data)
		v.Data = &data
	}
	return v
}

func bookView(s poller.Snapshot[domain.OrderBook]) FeedView[aggregate.BookView] {
	return feedView(s, aggregate.Book)
}

func ordersView(s poller.Snapshot[[]domain.Order]) FeedView[aggregate.OrdersView] {
	return feedView(s, aggregate.Orders)
}

func tapeView(s poller.Snapshot[[]domain.Trade]) FeedView[aggregate.TapeView] {
	return feedView(s, aggregate.Tape)
}

func idleView[V any]() FeedView[V] {
	return FeedView[V]{State: poller.StateIdle.String()}
}
