package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

type memTape struct {
	mu   sync.Mutex
	rows map[int64]domain.Trade
	err  error
}

func (m *memTape) Append(_ context.Context, trades []domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.rows == nil {
		m.rows = make(map[int64]domain.Trade)
	}
	var n int64
	for _, t := range trades {
		if _, ok := m.rows[t.ID]; ok || t.ID == 0 {
			continue
		}
		m.rows[t.ID] = t
		n++
	}
	return n, nil
}

func (m *memTape) ListRecent(_ context.Context, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Trade, 0, len(m.rows))
	for _, t := range m.rows {
		out = append(out, t)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type upload struct {
	path        string
	contentType string
	body        []byte
}

type memBlobs struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.uploads = append(m.uploads, upload{path: path, contentType: contentType, body: body})
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "application/octet-stream")
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trade(id int64, price string) domain.Trade {
	return domain.Trade{
		ID:        id,
		Price:     decimal.RequireFromString(price),
		Quantity:  decimal.NewFromInt(1),
		Timestamp: time.Date(2026, 10, 16, 12, 0, int(id), 0, time.UTC),
	}
}

func TestSnapshotKey(t *testing.T) {
	at := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	want := "tape/2026/03/08/1772933400.json"
	if got := SnapshotKey(at); got != want {
		t.Errorf("SnapshotKey = %q, want %q", got, want)
	}
}

func TestRecorder_AppendsNewRowsOnly(t *testing.T) {
	tape := &memTape{}
	r := NewRecorder(tape, nil, 0, discardLogger())
	ctx := context.Background()

	if err := r.Record(ctx, []domain.Trade{trade(1, "100"), trade(2, "101")}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := r.Record(ctx, []domain.Trade{trade(2, "101"), trade(3, "102")}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := r.History(ctx, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("archived %d trades, want 3", len(got))
	}
}

func TestRecorder_FlushOnlyWhenChanged(t *testing.T) {
	blobs := &memBlobs{}
	r := NewRecorder(nil, blobs, time.Hour, discardLogger())
	r.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush empty: %v", err)
	}
	if blobs.count() != 0 {
		t.Fatalf("uploaded before any tape was recorded")
	}

	tape := []domain.Trade{trade(1, "100")}
	_ = r.Record(ctx, tape)
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_ = r.Record(ctx, []domain.Trade{trade(1, "100.00")})
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush unchanged: %v", err)
	}
	if blobs.count() != 1 {
		t.Fatalf("uploads = %d, want 1", blobs.count())
	}

	up := blobs.uploads[0]
	if up.path != "tape/2026/10/16/1792141200.json" || up.contentType != "application/json" {
		t.Errorf("upload = %s (%s)", up.path, up.contentType)
	}
	var snap Snapshot
	if err := json.Unmarshal(up.body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Count != 1 || len(snap.Trades) != 1 || snap.Trades[0].ID != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	_ = r.Record(ctx, append(tape, trade(2, "99")))
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush changed: %v", err)
	}
	if blobs.count() != 2 {
		t.Errorf("uploads = %d, want 2", blobs.count())
	}
}

func TestRecorder_FailedUploadRetries(t *testing.T) {
	blobs := &memBlobs{err: errors.New("bucket gone")}
	r := NewRecorder(nil, blobs, time.Hour, discardLogger())
	ctx := context.Background()

	_ = r.Record(ctx, []domain.Trade{trade(1, "100")})
	if err := r.Flush(ctx); err == nil {
		t.Fatal("expected upload error")
	}
	blobs.err = nil
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if blobs.count() != 1 {
		t.Errorf("uploads = %d, want 1", blobs.count())
	}
}

func TestRecorder_AppendErrorWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewRecorder(&memTape{err: boom}, nil, 0, discardLogger())
	err := r.Record(context.Background(), []domain.Trade{trade(1, "1")})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}

func TestRecorder_Disabled(t *testing.T) {
	r := NewRecorder(nil, nil, 0, discardLogger())
	if r.Enabled() {
		t.Error("Enabled with no backends")
	}
	if err := r.Record(context.Background(), []domain.Trade{trade(1, "1")}); err != nil {
		t.Errorf("Record: %v", err)
	}
	if _, err := r.History(context.Background(), 5); !errors.Is(err, ErrDisabled) {
		t.Errorf("History err = %v, want ErrDisabled", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRecorder_RunFlushesOnShutdown(t *testing.T) {
	blobs := &memBlobs{}
	r := NewRecorder(nil, blobs, time.Hour, discardLogger())
	_ = r.Record(context.Background(), []domain.Trade{trade(1, "100")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	if blobs.count() != 1 {
		t.Errorf("uploads = %d, want 1 final snapshot", blobs.count())
	}
}
