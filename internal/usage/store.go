package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

/* ===== postgres ledger ===== */

// Store persists delivered-bytes totals per stream per day.
type Store struct {
	DB *sql.DB
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stream_usage (
			day        date        NOT NULL,
			stream_id  text        NOT NULL,
			bytes      bigint      NOT NULL DEFAULT 0,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (day, stream_id)
		)`)
	if err != nil {
		return fmt.Errorf("usage schema: %w", err)
	}
	return nil
}

// AddBytes folds a delta into today's row for the stream.
func (s *Store) AddBytes(ctx context.Context, streamID string, delta int64) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO stream_usage (day, stream_id, bytes, updated_at)
		VALUES (CURRENT_DATE, $1, $2, now())
		ON CONFLICT (day, stream_id)
		DO UPDATE SET bytes = stream_usage.bytes + EXCLUDED.bytes, updated_at = now()`,
		streamID, delta)
	if err != nil {
		return fmt.Errorf("usage upsert %s: %w", streamID, err)
	}
	return nil
}

// TotalSince sums delivered bytes across all streams from a given day.
func (s *Store) TotalSince(ctx context.Context, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(bytes), 0) FROM stream_usage WHERE day >= $1`,
		since.Format("2006-01-02")).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage total: %w", err)
	}
	return total.Int64, nil
}
