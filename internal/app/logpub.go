package app

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/orderdesk/internal/aggregate"
	"github.com/alanyoungcy/orderdesk/internal/dashboard"
)

// logPublisher summarises dashboard updates as log lines for watch mode.
// Loading transitions are not logged.
type logPublisher struct {
	logger *slog.Logger
}

func newLogPublisher(logger *slog.Logger) *logPublisher {
	return &logPublisher{logger: logger.With(slog.String("component", "watch"))}
}

func (p *logPublisher) Publish(kind string, payload any) {
	attrs, ok := summarize(payload)
	if !ok {
		return
	}
	attrs = append([]slog.Attr{slog.String("panel", kind)}, attrs...)
	p.logger.LogAttrs(context.Background(), slog.LevelInfo, "update", attrs...)
}

func summarize(payload any) ([]slog.Attr, bool) {
	switch v := payload.(type) {
	case dashboard.SessionView:
		attrs := []slog.Attr{slog.String("state", v.State.String())}
		if v.User != nil {
			attrs = append(attrs, slog.String("user", v.User.Username))
		}
		if v.Reason != "" {
			attrs = append(attrs, slog.String("reason", v.Reason))
		}
		return attrs, true

	case dashboard.FeedView[aggregate.BookView]:
		attrs, ok := feedState(v.State, v.Error)
		if !ok || v.Data == nil {
			return attrs, ok
		}
		d := v.Data
		attrs = append(attrs,
			slog.Int("bids", d.BidSummary.Count),
			slog.Int("asks", d.AskSummary.Count),
		)
		if d.Spread != nil {
			attrs = append(attrs,
				slog.String("best_bid", d.BestBid.String()),
				slog.String("best_ask", d.BestAsk.String()),
				slog.String("spread", d.Spread.String()),
			)
		}
		return attrs, true

	case dashboard.FeedView[aggregate.OrdersView]:
		attrs, ok := feedState(v.State, v.Error)
		if !ok || v.Data == nil {
			return attrs, ok
		}
		return append(attrs,
			slog.Int("orders", len(v.Data.Orders)),
			slog.Int("active", v.Data.Active),
		), true

	case dashboard.FeedView[aggregate.TapeView]:
		attrs, ok := feedState(v.State, v.Error)
		if !ok || v.Data == nil {
			return attrs, ok
		}
		attrs = append(attrs, slog.Int("trades", v.Data.Count))
		if v.Data.LastPrice != nil {
			attrs = append(attrs, slog.String("last", v.Data.LastPrice.String()))
		}
		return attrs, true
	}
	return nil, false
}

func feedState(state, errMsg string) ([]slog.Attr, bool) {
	if state == "loading" {
		return nil, false
	}
	attrs := []slog.Attr{slog.String("state", state)}
	if errMsg != "" {
		attrs = append(attrs, slog.String("error", errMsg))
	}
	return attrs, true
}
