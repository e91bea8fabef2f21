package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alanyoungcy/orderdesk/internal/metrics"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not complete")
	}
}

func TestFeed_EagerFetchOnStart(t *testing.T) {
	var calls atomic.Int64
	f := New(Config[int]{
		Name:     "book",
		Interval: time.Hour,
		Logger:   discard(),
		Fetch: func(context.Context) (int, error) {
			return int(calls.Add(1)), nil
		},
	})
	if s := f.Snapshot(); s.State != StateIdle || s.HasData {
		t.Fatalf("initial snapshot = %+v, want idle without data", s)
	}

	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, "first fetch", func() bool { return f.Snapshot().State == StateReady })
	s := f.Snapshot()
	if !s.HasData || s.Data != 1 || s.Err != nil || s.Seq != 1 {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestFeed_FailureKeepsPreviousData(t *testing.T) {
	errDown := errors.New("service down")
	var fail atomic.Bool
	f := New(Config[string]{
		Name:     "trades",
		Interval: time.Hour,
		Logger:   discard(),
		Fetch: func(context.Context) (string, error) {
			if fail.Load() {
				return "", errDown
			}
			return "tape-v1", nil
		},
	})
	f.Start(context.Background())
	defer f.Stop()
	waitFor(t, "first fetch", func() bool { return f.Snapshot().State == StateReady })

	fail.Store(true)
	wait(t, f.Refresh())

	s := f.Snapshot()
	if s.State != StateFailed || !errors.Is(s.Err, errDown) {
		t.Fatalf("state = %v err = %v, want failed with errDown", s.State, s.Err)
	}
	if !s.HasData || s.Data != "tape-v1" {
		t.Errorf("data = %q (has %v), want previous tape-v1", s.Data, s.HasData)
	}

	fail.Store(false)
	wait(t, f.Refresh())
	if s := f.Snapshot(); s.State != StateReady || s.Err != nil {
		t.Errorf("after recovery: %+v", s)
	}
}

func TestFeed_OutOfOrderResponseDiscarded(t *testing.T) {
	m := metrics.New()
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int64

	f := New(Config[string]{
		Name:     "orders",
		Interval: time.Hour,
		Logger:   discard(),
		Metrics:  m,
		Fetch: func(context.Context) (string, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
				return "old", nil
			}
			return "new", nil
		},
	})
	f.Start(context.Background())
	defer f.Stop()
	<-entered

	// The second request completes first and wins.
	wait(t, f.Refresh())
	if s := f.Snapshot(); s.Data != "new" || s.Seq != 2 {
		t.Fatalf("after refresh: data %q seq %d, want new/2", s.Data, s.Seq)
	}

	close(release)
	waitFor(t, "stale response", func() bool {
		return testutil.ToFloat64(m.FeedStale.WithLabelValues("orders")) == 1
	})
	if s := f.Snapshot(); s.Data != "new" || s.Seq != 2 || s.State != StateReady {
		t.Errorf("late response regressed the feed: %+v", s)
	}
}

func TestFeed_StopDuringInFlightFetch(t *testing.T) {
	entered := make(chan struct{})
	var mu sync.Mutex
	var updates []State

	f := New(Config[int]{
		Name:     "book",
		Interval: time.Hour,
		Logger:   discard(),
		Fetch: func(ctx context.Context) (int, error) {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		},
		OnUpdate: func(s Snapshot[int]) {
			mu.Lock()
			updates = append(updates, s.State)
			mu.Unlock()
		},
	})
	f.Start(context.Background())
	<-entered

	f.Stop()
	mu.Lock()
	seen := len(updates)
	mu.Unlock()

	// Give the cancelled fetch time to return; nothing may change.
	time.Sleep(50 * time.Millisecond)

	s := f.Snapshot()
	if s.State != StateLoading || s.Err != nil || s.Seq != 0 {
		t.Errorf("snapshot after stop = %+v, want untouched loading state", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(updates) != seen {
		t.Errorf("OnUpdate called %d times after Stop", len(updates)-seen)
	}

	select {
	case <-f.Refresh():
	default:
		t.Error("Refresh after Stop should return a closed channel")
	}
	f.Stop()
}

func TestFeed_TickerKeepsPollingAfterFailures(t *testing.T) {
	var calls atomic.Int64
	f := New(Config[int]{
		Name:     "trades",
		Interval: 10 * time.Millisecond,
		Logger:   discard(),
		Fetch: func(context.Context) (int, error) {
			calls.Add(1)
			return 0, errors.New("always failing")
		},
	})
	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, "several ticks", func() bool { return calls.Load() >= 4 })
	if s := f.Snapshot(); s.HasData {
		t.Errorf("feed has data without any success: %+v", s)
	}
}

func TestFeed_TimeoutBoundsFetch(t *testing.T) {
	f := New(Config[int]{
		Name:     "book",
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Logger:   discard(),
		Fetch: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	})
	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, "timeout", func() bool { return f.Snapshot().State == StateFailed })
	if err := f.Snapshot().Err; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestFeed_RefreshBeforeStart(t *testing.T) {
	f := New(Config[int]{
		Name:   "book",
		Logger: discard(),
		Fetch:  func(context.Context) (int, error) { return 1, nil },
	})
	select {
	case <-f.Refresh():
	default:
		t.Error("Refresh on an idle feed should return a closed channel")
	}
	if s := f.Snapshot(); s.State != StateIdle {
		t.Errorf("state = %v, want idle", s.State)
	}
	f.Stop()
}

func TestFeed_StateMetric(t *testing.T) {
	m := metrics.New()
	f := New(Config[int]{
		Name:     "book",
		Interval: time.Hour,
		Logger:   discard(),
		Metrics:  m,
		Fetch:    func(context.Context) (int, error) { return 1, nil },
	})
	f.Start(context.Background())
	defer f.Stop()

	waitFor(t, "ready", func() bool { return f.Snapshot().State == StateReady })
	waitFor(t, "ready gauge", func() bool {
		return testutil.ToFloat64(m.FeedState.WithLabelValues("book", "ready")) == 1
	})
	if got := testutil.ToFloat64(m.FeedFetches.WithLabelValues("book", "ok")); got != 1 {
		t.Errorf("fetch ok counter = %v, want 1", got)
	}
}
