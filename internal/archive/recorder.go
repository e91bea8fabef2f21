// Package archive keeps a record of the public trade tape outside the
// process: rows in a TapeArchive and periodic JSON snapshots in a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// ErrDisabled is returned by History when no tape archive is configured.
var ErrDisabled = errors.New("archive: tape archive not configured")

// DefaultInterval is how often Run checks for a new snapshot to upload.
const DefaultInterval = time.Minute

// Snapshot is the JSON document uploaded for each changed tape.
type Snapshot struct {
	CapturedAt time.Time      `json:"captured_at"`
	Count      int            `json:"count"`
	Trades     []domain.Trade `json:"trades"`
}

// Recorder archives trade tape snapshots. Either backend may be nil.
type Recorder struct {
	tape     domain.TapeArchive
	blobs    domain.BlobWriter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	latest   []domain.Trade
	version  uint64
	uploaded uint64
}

// NewRecorder creates a Recorder. A non-positive interval means DefaultInterval.
func NewRecorder(tape domain.TapeArchive, blobs domain.BlobWriter, interval time.Duration, logger *slog.Logger) *Recorder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Recorder{
		tape:     tape,
		blobs:    blobs,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "archive")),
	}
}

// Enabled reports whether any backend is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && (r.tape != nil || r.blobs != nil)
}

// Record takes the latest tape from the trades feed. New rows go to the tape
// archive immediately; the snapshot is kept for the next Flush if it differs
// from the previous one.
func (r *Recorder) Record(ctx context.Context, trades []domain.Trade) error {
	if !r.Enabled() {
		return nil
	}

	r.mu.Lock()
	if !sameTape(r.latest, trades) {
		r.latest = slices.Clone(trades)
		r.version++
	}
	r.mu.Unlock()

	if r.tape == nil || len(trades) == 0 {
		return nil
	}
	n, err := r.tape.Append(ctx, trades)
	if err != nil {
		return fmt.Errorf("archive: append tape: %w", err)
	}
	if n > 0 {
		r.logger.Debug("tape rows archived", slog.Int64("count", n))
	}
	return nil
}

// Flush uploads the latest snapshot if it changed since the last upload.
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil || r.blobs == nil {
		return nil
	}

	r.mu.Lock()
	if r.version == r.uploaded {
		r.mu.Unlock()
		return nil
	}
	version := r.version
	trades := r.latest
	r.mu.Unlock()

	at := r.now().UTC()
	body, err := json.Marshal(Snapshot{CapturedAt: at, Count: len(trades), Trades: trades})
	if err != nil {
		return fmt.Errorf("archive: encode snapshot: %w", err)
	}
	key := SnapshotKey(at)
	if err := r.blobs.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("archive: upload snapshot: %w", err)
	}

	r.mu.Lock()
	if version > r.uploaded {
		r.uploaded = version
	}
	r.mu.Unlock()

	r.logger.Info("tape snapshot uploaded",
		slog.String("key", key),
		slog.Int("trades", len(trades)),
	)
	return nil
}

// Run flushes on every interval until ctx is cancelled, then makes one last
// attempt with a short deadline.
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil || r.blobs == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.Flush(final); err != nil {
				r.logger.Warn("final snapshot upload failed", slog.String("error", err.Error()))
			}
			cancel()
			return nil
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Error("snapshot upload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// History returns up to limit archived trades, newest first.
func (r *Recorder) History(ctx context.Context, limit int) ([]domain.Trade, error) {
	if r == nil || r.tape == nil {
		return nil, ErrDisabled
	}
	return r.tape.ListRecent(ctx, limit)
}

// SnapshotKey is the object path for a snapshot captured at t.
func SnapshotKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("tape/%04d/%02d/%02d/%d.json", t.Year(), int(t.Month()), t.Day(), t.Unix())
}

func sameTape(a, b []domain.Trade) bool {
	return slices.EqualFunc(a, b, func(x, y domain.Trade) bool {
		return x.ID == y.ID &&
			x.Price.Equal(y.Price) &&
			x.Quantity.Equal(y.Quantity) &&
			x.Timestamp.Equal(y.Timestamp) &&
			x.Buyer == y.Buyer &&
			x.Seller == y.Seller
	})
}
