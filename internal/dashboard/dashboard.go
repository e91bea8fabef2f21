// Package dashboard runs the polled feeds while a session is active and
// assembles them, with the order form, into one view.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/aggregate"
	"github.com/alanyoungcy/orderdesk/internal/archive"
	"github.com/alanyoungcy/orderdesk/internal/domain"
	"github.com/alanyoungcy/orderdesk/internal/gate"
	"github.com/alanyoungcy/orderdesk/internal/metrics"
	"github.com/alanyoungcy/orderdesk/internal/notify"
	"github.com/alanyoungcy/orderdesk/internal/poller"
	"github.com/alanyoungcy/orderdesk/internal/submit"
)

// ErrUnknownFeed is returned by Refresh for a name other than book, orders
// or trades.
var ErrUnknownFeed = errors.New("dashboard: unknown feed")

var errSignedOut = &domain.AuthError{Reason: "not signed in", Err: domain.ErrNoCredential}

// Exchange is the subset of the resource client the dashboard polls and
// submits through.
type Exchange interface {
	FetchOrderBook(ctx context.Context) (domain.OrderBook, error)
	FetchUserOrders(ctx context.Context) ([]domain.Order, error)
	FetchTrades(ctx context.Context) ([]domain.Trade, error)
	submit.Submitter
}

// Publisher receives every view change. Implementations must not block.
type Publisher interface {
	Publish(kind string, payload any)
}

// Config tunes the feeds.
type Config struct {
	BookInterval   time.Duration
	OrdersInterval time.Duration
	TradesInterval time.Duration
	RequestTimeout time.Duration
	SuccessClear   time.Duration
	// LogoutOnAuthError expires the session when a protected call is
	// rejected with an auth error.
	LogoutOnAuthError bool
}

// Deps are the collaborators. Everything after Exchange is optional.
type Deps struct {
	Gate       *gate.Gate
	Exchange   Exchange
	Publishers []Publisher
	Bus        domain.SignalBus
	Recorder   *archive.Recorder
	Notifier   *notify.Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type feedSet struct {
	book   *poller.Feed[domain.OrderBook]
	orders *poller.Feed[[]domain.Order]
	trades *poller.Feed[[]domain.Trade]
}

func (fs *feedSet) start(ctx context.Context) {
	fs.book.Start(ctx)
	fs.orders.Start(ctx)
	fs.trades.Start(ctx)
}

func (fs *feedSet) stop() {
	fs.book.Stop()
	fs.orders.Stop()
	fs.trades.Stop()
}

// outboxItem is work done off the feed goroutines: signal bus fan-out and
// archiving, both of which block on the network.
type outboxItem struct {
	kind    string
	payload any
	trades  []domain.Trade
}

// Dashboard runs the feeds while the gate is Authenticated.
type Dashboard struct {
	cfg      Config
	gate     *gate.Gate
	exchange Exchange
	pubs     []Publisher
	bus      domain.SignalBus
	recorder *archive.Recorder
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	base     *slog.Logger
	logger   *slog.Logger
	form     *submit.Flow

	mu          sync.Mutex
	ctx         context.Context
	feeds       *feedSet
	lastSession SessionView

	// gen identifies the current feed set; callbacks from older sets are
	// ignored.
	gen    atomic.Uint64
	outbox chan outboxItem
}

// New wires a dashboard and subscribes it to the gate. Feeds start once Run
// is called.
func New(cfg Config, deps Deps) *Dashboard {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dashboard{
		cfg:      cfg,
		gate:     deps.Gate,
		exchange: deps.Exchange,
		pubs:     deps.Publishers,
		bus:      deps.Bus,
		recorder: deps.Recorder,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		base:     logger,
		logger:   logger.With(slog.String("component", "dashboard")),
		outbox:   make(chan outboxItem, 64),
	}
	d.form = submit.New(
		submit.Config{SuccessClear: cfg.SuccessClear},
		expiringSubmitter{d: d},
		d,
		deps.Notifier,
		deps.Metrics,
		logger,
	)
	d.lastSession = d.sessionView("")
	d.gate.Subscribe(d.onTransition)
	return d
}

// Run starts the feeds if a session is already active and processes the
// outbox until ctx is cancelled. Feeds are stopped before Run returns.
func (d *Dashboard) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	if d.gate.State() == gate.Authenticated {
		d.startFeeds()
	}

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.ctx = nil
			d.mu.Unlock()
			d.stopFeeds()
			return nil
		case item := <-d.outbox:
			d.deliver(ctx, item)
		}
	}
}

// View assembles the current dashboard.
func (d *Dashboard) View() View {
	d.mu.Lock()
	fs := d.feeds
	sess := d.lastSession
	d.mu.Unlock()

	v := View{Session: sess, Form: d.form.Status()}
	if fs == nil {
		v.Book = idleView[aggregate.BookView]()
		v.Orders = idleView[aggregate.OrdersView]()
		v.Tape = idleView[aggregate.TapeView]()
		return v
	}
	v.Book = bookView(fs.book.Snapshot())
	v.Orders = ordersView(fs.orders.Snapshot())
	v.Tape = tapeView(fs.trades.Snapshot())
	return v
}

// Session returns the gate state.
func (d *Dashboard) Session() SessionView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSession
}

// Login signs in through the gate.
func (d *Dashboard) Login(ctx context.Context, username, password string) error {
	return d.gate.Login(ctx, username, password)
}

// Register creates an account and signs in through the gate.
func (d *Dashboard) Register(ctx context.Context, username, password string) error {
	return d.gate.Register(ctx, username, password)
}

// Logout signs out.
func (d *Dashboard) Logout(ctx context.Context) error {
	return d.gate.Logout(ctx)
}

// Submit runs the order form with the given fields.
func (d *Dashboard) Submit(ctx context.Context, form submit.Form) (domain.Order, error) {
	return d.form.SubmitForm(ctx, form)
}

// FormStatus returns the order form state.
func (d *Dashboard) FormStatus() submit.Status {
	return d.form.Status()
}

// Refresh triggers an out-of-cycle fetch of the named feed. The returned
// channel closes once the fetch completes. It fails with an auth error when
// no session is active.
func (d *Dashboard) Refresh(name string) (<-chan struct{}, error) {
	d.mu.Lock()
	fs := d.feeds
	d.mu.Unlock()

	switch name {
	case FeedBook, FeedOrders, FeedTrades:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, name)
	}
	if fs == nil {
		return nil, errSignedOut
	}
	switch name {
	case FeedBook:
		return fs.book.Refresh(), nil
	case FeedOrders:
		return fs.orders.Refresh(), nil
	default:
		return fs.trades.Refresh(), nil
	}
}

// RefreshAfterSubmit refreshes the book and the user's orders after an order
// is accepted.
func (d *Dashboard) RefreshAfterSubmit() {
	d.mu.Lock()
	fs := d.feeds
	d.mu.Unlock()
	if fs == nil {
		return
	}
	fs.book.Refresh()
	fs.orders.Refresh()
}

// History returns archived trades, newest first.
func (d *Dashboard) History(ctx context.Context, limit int) ([]domain.Trade, error) {
	return d.recorder.History(ctx, limit)
}

func (d *Dashboard) onTransition(t gate.Transition) {
	sv := d.sessionView(t.Reason)
	d.mu.Lock()
	d.lastSession = sv
	d.mu.Unlock()

	switch t.To {
	case gate.Authenticated:
		d.startFeeds()
	case gate.Anonymous:
		d.stopFeeds()
		if t.Reason != "" {
			d.notifyExpired(t)
		}
	}
	d.publish(KindSession, sv)
}

func (d *Dashboard) sessionView(reason string) SessionView {
	sv := SessionView{State: d.gate.State(), Reason: reason}
	if u, ok := d.gate.User(); ok {
		sv.User = &u
	}
	return sv
}

func (d *Dashboard) startFeeds() {
	d.mu.Lock()
	ctx := d.ctx
	old := d.feeds
	d.feeds = nil
	if ctx == nil {
		d.mu.Unlock()
		if old != nil {
			old.stop()
		}
		return
	}
	gen := d.gen.Add(1)
	fs := d.newFeeds(gen)
	d.feeds = fs
	d.mu.Unlock()

	if old != nil {
		old.stop()
	}
	fs.start(ctx)
	d.logger.Info("feeds started")
}

func (d *Dashboard) stopFeeds() {
	d.mu.Lock()
	fs := d.feeds
	d.feeds = nil
	d.gen.Add(1)
	d.mu.Unlock()

	if fs == nil {
		return
	}
	fs.stop()
	d.logger.Info("feeds stopped")

	d.publish(FeedBook, idleView[aggregate.BookView]())
	d.publish(FeedOrders, idleView[aggregate.OrdersView]())
	d.publish(FeedTrades, idleView[aggregate.TapeView]())
}

func (d *Dashboard) newFeeds(gen uint64) *feedSet {
	// Seq of the last tape handed to the archive. OnUpdate calls for one feed
	// never overlap.
	var archived uint64
	return &feedSet{
		book: poller.New(poller.Config[domain.OrderBook]{
			Name:     FeedBook,
			Fetch:    withToken(d.gate, d.exchange.FetchOrderBook),
			Interval: d.cfg.BookInterval,
			Timeout:  d.cfg.RequestTimeout,
			Metrics:  d.metrics,
			Logger:   d.base,
			OnUpdate: func(s poller.Snapshot[domain.OrderBook]) {
				d.onFeedUpdate(gen, FeedBook, bookView(s), s.Err, nil)
			},
		}),
		orders: poller.New(poller.Config[[]domain.Order]{
			Name:     FeedOrders,
			Fetch:    withToken(d.gate, d.exchange.FetchUserOrders),
			Interval: d.cfg.OrdersInterval,
			Timeout:  d.cfg.RequestTimeout,
			Metrics:  d.metrics,
			Logger:   d.base,
			OnUpdate: func(s poller.Snapshot[[]domain.Order]) {
				d.onFeedUpdate(gen, FeedOrders, ordersView(s), s.Err, nil)
			},
		}),
		trades: poller.New(poller.Config[[]domain.Trade]{
			Name:     FeedTrades,
			Fetch:    withToken(d.gate, d.exchange.FetchTrades),
			Interval: d.cfg.TradesInterval,
			Timeout:  d.cfg.RequestTimeout,
			Metrics:  d.metrics,
			Logger:   d.base,
			OnUpdate: func(s poller.Snapshot[[]domain.Trade]) {
				d.onFeedUpdate(gen, FeedTrades, tapeView(s), s.Err, freshTape(s, &archived))
			},
		}),
	}
}

// freshTape returns the trades of a successful fetch not yet archived. The
// sequence number decides, not the state: a fetch applied while a newer one
// is outstanding leaves the feed Loading.
func freshTape(s poller.Snapshot[[]domain.Trade], archived *uint64) []domain.Trade {
	if s.Err != nil || !s.HasData || s.Seq <= *archived {
		return nil
	}
	*archived = s.Seq
	return s.Data
}

// onFeedUpdate runs on a feed goroutine inside OnUpdate. It must not stop
// feeds synchronously, so session expiry is handed to a new goroutine.
func (d *Dashboard) onFeedUpdate(gen uint64, kind string, view any, err error, trades []domain.Trade) {
	if d.gen.Load() != gen {
		return
	}
	var rej *rejection
	if errors.As(err, &rej) && d.cfg.LogoutOnAuthError {
		go d.gate.ExpireToken(context.Background(), rej.token, rej.Error())
	}
	d.publish(kind, view)
	if trades != nil && d.recorder.Enabled() {
		d.enqueue(outboxItem{trades: trades})
	}
}

func (d *Dashboard) publish(kind string, payload any) {
	for _, p := range d.pubs {
		p.Publish(kind, payload)
	}
	if d.bus != nil {
		d.enqueue(outboxItem{kind: kind, payload: payload})
	}
}

func (d *Dashboard) enqueue(item outboxItem) {
	select {
	case d.outbox <- item:
	default:
		d.logger.Warn("outbox full, dropping update", slog.String("kind", item.kind))
	}
}

func (d *Dashboard) deliver(ctx context.Context, item outboxItem) {
	if item.trades != nil {
		if err := d.recorder.Record(ctx, item.trades); err != nil {
			d.logger.Warn("archiving tape failed", slog.String("error", err.Error()))
		}
		return
	}
	data, err := json.Marshal(item.payload)
	if err != nil {
		d.logger.Error("encoding update", slog.String("kind", item.kind), slog.String("error", err.Error()))
		return
	}
	if err := d.bus.Publish(ctx, item.kind, data); err != nil {
		d.logger.Warn("signal bus publish failed",
			slog.String("kind", item.kind),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dashboard) notifyExpired(t gate.Transition) {
	if !d.notifier.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		msg := fmt.Sprintf("%s was signed out: %s", t.User.Username, t.Reason)
		if err := d.notifier.Notify(ctx, notify.EventSessionExpired, "Session expired", msg); err != nil {
			d.logger.Warn("notification failed", slog.String("error", err.Error()))
		}
	}()
}

// expiringSubmitter expires the session when the service rejects an order's
// credential.
type expiringSubmitter struct {
	d *Dashboard
}

func (s expiringSubmitter) SubmitOrder(ctx context.Context, price, quantity decimal.Decimal, side domain.Side) (domain.Order, error) {
	token, _ := s.d.gate.Token()
	order, err := s.d.exchange.SubmitOrder(ctx, price, quantity, side)
	if err != nil && domain.IsAuth(err) && s.d.cfg.LogoutOnAuthError {
		s.d.gate.ExpireToken(ctx, token, err.Error())
	}
	return order, err
}

// rejection is an auth failure tagged with the token the request carried.
// Its message is the underlying error's.
type rejection struct {
	token string
	err   error
}

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

// withToken records the session token in force when fetch starts, so an auth
// failure expires that token and not one issued by a later login.
func withToken[T any](g *gate.Gate, fetch func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		token, _ := g.Token()
		v, err := fetch(ctx)
		if err != nil && domain.IsAuth(err) {
			return v, &rejection{token: token, err: err}
		}
		return v, err
	}
}
