// Package poller keeps one remote resource fresh by fetching it on a fixed
// interval and on demand.
//
// Each fetch takes a sequence number. A response is applied only if its
// number is higher than the last applied one, so responses completing out of
// order never move a feed backwards. Failures keep the previous data visible.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/orderdesk/internal/metrics"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 10 * time.Second

// State is a feed's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Snapshot is a point-in-time copy of a feed's state.
type Snapshot[T any] struct {
	State State
	// Data is the last successfully fetched value. HasData is false until the
	// first success.
	Data    T
	HasData bool
	// Err is the error of the last applied fetch, nil after a success.
	Err       error
	UpdatedAt time.Time
	// Seq is the sequence number of the last applied fetch.
	Seq uint64
}

// Config configures a Feed.
type Config[T any] struct {
	Name     string
	Fetch    func(ctx context.Context) (T, error)
	Interval time.Duration
	// Timeout bounds a single fetch. Zero leaves it to the fetch function.
	Timeout time.Duration
	// OnUpdate is called after every state change. It must not block and
	// must not call back into the feed.
	OnUpdate func(Snapshot[T])
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Feed polls a single resource. A Feed runs once: after Stop it cannot be
// restarted.
type Feed[T any] struct {
	cfg    Config[T]
	logger *slog.Logger

	mu      sync.Mutex
	snap    Snapshot[T]
	issued  uint64
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	// emitMu serialises OnUpdate calls with Stop so no callback runs after
	// Stop returns.
	emitMu sync.Mutex

	loopDone chan struct{}
}

// New creates an idle feed.
func New[T any](cfg Config[T]) *Feed[T] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed[T]{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "feed"), slog.String("feed", cfg.Name)),
		loopDone: make(chan struct{}),
	}
}

// Name returns the feed name.
func (f *Feed[T]) Name() string { return f.cfg.Name }

// Start performs an eager fetch and then polls every Interval until ctx is
// cancelled or Stop is called. Calling Start more than once has no effect.
func (f *Feed[T]) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started || f.stopped {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	f.trigger()
	go f.loop()
}

func (f *Feed[T]) loop() {
	defer close(f.loopDone)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.trigger()
		}
	}
}

// Refresh starts an out-of-cycle fetch. The returned channel is closed once
// that fetch has completed and its result, if still current, is applied. On a
// feed that is not running, the channel is already closed.
func (f *Feed[T]) Refresh() <-chan struct{} {
	return f.trigger()
}

// Stop cancels in-flight fetches and halts the ticker. Responses that arrive
// afterwards are dropped and OnUpdate is not called again once Stop returns.
func (f *Feed[T]) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	started := f.started
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()

	if started {
		<-f.loopDone
	}
	// Barrier: wait out an emission that passed its stopped check first.
	f.emitMu.Lock()
	f.emitMu.Unlock()
}

// Snapshot returns the current state.
func (f *Feed[T]) Snapshot() Snapshot[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// trigger issues a new fetch and moves the feed to Loading.
func (f *Feed[T]) trigger() <-chan struct{} {
	done := make(chan struct{})

	f.mu.Lock()
	if !f.started || f.stopped {
		f.mu.Unlock()
		close(done)
		return done
	}
	f.issued++
	seq := f.issued
	ctx := f.ctx
	f.snap.State = StateLoading
	f.mu.Unlock()

	f.observeState(StateLoading)
	f.emit()

	go func() {
		defer close(done)
		f.fetch(ctx, seq)
	}()
	return done
}

func (f *Feed[T]) fetch(feedCtx context.Context, seq uint64) {
	ctx := feedCtx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(feedCtx, f.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := f.cfg.Fetch(ctx)
	elapsed := time.Since(start)

	f.mu.Lock()
	if f.stopped || feedCtx.Err() != nil {
		f.mu.Unlock()
		return
	}
	if seq <= f.snap.Seq {
		f.mu.Unlock()
		f.logger.Debug("discarding stale response",
			slog.Uint64("seq", seq),
			slog.Uint64("applied", f.snap.Seq),
		)
		if m := f.cfg.Metrics; m != nil {
			m.FeedStale.WithLabelValues(f.cfg.Name).Inc()
		}
		return
	}

	f.snap.Seq = seq
	f.snap.UpdatedAt = time.Now()
	if err != nil {
		f.snap.State = StateFailed
		f.snap.Err = err
	} else {
		f.snap.State = StateReady
		f.snap.Err = nil
		f.snap.Data = data
		f.snap.HasData = true
	}
	// A newer fetch is still outstanding.
	if seq < f.issued {
		f.snap.State = StateLoading
	}
	snap := f.snap
	f.mu.Unlock()

	if m := f.cfg.Metrics; m != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.FeedFetches.WithLabelValues(f.cfg.Name, result).Inc()
		m.FeedFetchDuration.WithLabelValues(f.cfg.Name).Observe(elapsed.Seconds())
	}
	if err != nil {
		f.logger.Warn("fetch failed",
			slog.Uint64("seq", seq),
			slog.String("error", err.Error()),
		)
	}

	f.observeState(snap.State)
	f.emit()
}

// emit hands the current snapshot, not the one that triggered the call, to
// OnUpdate so observers never see the feed move backwards.
func (f *Feed[T]) emit() {
	if f.cfg.OnUpdate == nil {
		return
	}
	f.emitMu.Lock()
	defer f.emitMu.Unlock()

	f.mu.Lock()
	stopped := f.stopped
	snap := f.snap
	f.mu.Unlock()
	if stopped {
		return
	}
	f.cfg.OnUpdate(snap)
}

func (f *Feed[T]) observeState(s State) {
	if m := f.cfg.Metrics; m != nil {
		m.SetFeedState(f.cfg.Name, s.String())
	}
}
