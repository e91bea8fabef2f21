package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/orderdesk/internal/dashboard"
	"github.com/alanyoungcy/orderdesk/internal/gate"
	"github.com/alanyoungcy/orderdesk/internal/server"
	"github.com/alanyoungcy/orderdesk/internal/server/handler"
	"github.com/alanyoungcy/orderdesk/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode runs the dashboard behind the local HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	var desk *dashboard.Dashboard
	hub := ws.NewHub(ws.Config{
		Initial: func() []ws.Envelope { return initialEnvelopes(desk.View()) },
	}, a.base)
	desk = a.newDashboard(deps, hub)

	h := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, hub.ClientCount),
		Session: handler.NewSessionHandler(desk, a.base),
		View:    handler.NewViewHandler(desk),
		Orders:  handler.NewOrderHandler(desk, a.base),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.Recorder.Enabled() {
		h.Tape = handler.NewTapeHandler(desk, a.cfg.Archive.HistoryLimit, a.base)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, h, hub, a.base)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return desk.Run(ctx) })
	g.Go(func() error { return deps.Recorder.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// WatchMode runs the dashboard headless and logs every panel update. It
// signs in with session.username/password when no token was stored, and again
// whenever the service expires the session. Without those credentials an
// expiry ends watch mode.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	desk := a.newDashboard(deps, newLogPublisher(a.base))
	expired := expiries(deps.Gate)

	var login func(context.Context) error
	if a.cfg.Session.Username != "" && a.cfg.Session.Password != "" {
		login = func(ctx context.Context) error {
			return desk.Login(ctx, a.cfg.Session.Username, a.cfg.Session.Password)
		}
	}

	if deps.Gate.State() == gate.Anonymous {
		if login == nil {
			return errors.New("app: watch mode needs a stored session or session.username and session.password")
		}
		if err := login(ctx); err != nil {
			return fmt.Errorf("app: watch mode sign-in: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return desk.Run(ctx) })
	g.Go(func() error { return deps.Recorder.Run(ctx) })
	g.Go(func() error { return keepSignedIn(ctx, expired, login, a.logger) })
	return g.Wait()
}

// expiries reports the reason of every session expiry. Observers run under
// the gate's lock, so the channel is only signalled, never waited on.
func expiries(g *gate.Gate) <-chan string {
	ch := make(chan string, 1)
	g.Subscribe(func(t gate.Transition) {
		if t.To != gate.Anonymous || t.Reason == "" {
			return
		}
		select {
		case ch <- t.Reason:
		default:
		}
	})
	return ch
}

// keepSignedIn signs in again after each expiry. With no login function the
// first expiry is returned as an error.
func keepSignedIn(ctx context.Context, expired <-chan string, login func(context.Context) error, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-expired:
			if login == nil {
				return fmt.Errorf("app: session expired: %s", reason)
			}
			logger.InfoContext(ctx, "session expired, signing in again", slog.String("reason", reason))
			if err := login(ctx); err != nil {
				return fmt.Errorf("app: watch mode sign-in: %w", err)
			}
		}
	}
}

func (a *App) newDashboard(deps *Dependencies, pubs ...dashboard.Publisher) *dashboard.Dashboard {
	return dashboard.New(dashboard.Config{
		BookInterval:      a.cfg.Poll.BookInterval.Duration,
		OrdersInterval:    a.cfg.Poll.OrdersInterval.Duration,
		TradesInterval:    a.cfg.Poll.TradesInterval.Duration,
		RequestTimeout:    a.cfg.Poll.RequestTimeout.Duration,
		SuccessClear:      a.cfg.Submit.SuccessClear.Duration,
		LogoutOnAuthError: a.cfg.Session.LogoutOnAuthError,
	}, dashboard.Deps{
		Gate:       deps.Gate,
		Exchange:   deps.Exchange,
		Publishers: pubs,
		Bus:        deps.SignalBus,
		Recorder:   deps.Recorder,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
		Logger:     a.base,
	})
}

func initialEnvelopes(v dashboard.View) []ws.Envelope {
	return []ws.Envelope{
		{Type: dashboard.KindSession, Payload: v.Session},
		{Type: dashboard.FeedBook, Payload: v.Book},
		{Type: dashboard.FeedOrders, Payload: v.Orders},
		{Type: dashboard.FeedTrades, Payload: v.Tape},
	}
}
