package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// TapeStore implements domain.TapeArchive on the trade_tape table.
type TapeStore struct {
	pool *pgxpool.Pool
}

// NewTapeStore creates a TapeStore backed by pool.
func NewTapeStore(pool *pgxpool.Pool) *TapeStore {
	return &TapeStore{pool: pool}
}

const insertTrade = `
	INSERT INTO trade_tape (trade_id, price, quantity, traded_at, buyer, seller)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (trade_id) DO NOTHING`

// Append inserts trades in one batch. Trades already archived, and trades
// the service sent without an id, are skipped. It returns the number of rows
// inserted.
func (s *TapeStore) Append(ctx context.Context, trades []domain.Trade) (int64, error) {
	batch := &pgx.Batch{}
	for _, t := range trades {
		if t.ID == 0 {
			continue
		}
		batch.Queue(insertTrade,
			t.ID, t.Price, t.Quantity, t.Timestamp, t.Buyer, t.Seller,
		)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert tape batch item %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListRecent returns up to limit archived trades, newest first.
func (s *TapeStore) ListRecent(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, price, quantity, traded_at, buyer, seller
		FROM trade_tape
		ORDER BY traded_at DESC, trade_id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tape: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0, limit)
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.Price, &t.Quantity, &t.Timestamp, &t.Buyer, &t.Seller); err != nil {
			return nil, fmt.Errorf("postgres: scan tape row: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tape: %w", err)
	}
	return trades, nil
}

var _ domain.TapeArchive = (*TapeStore)(nil)
