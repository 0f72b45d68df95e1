package quota

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the cross-restart Counter: one row per device per local
// day, incremented atomically. It is not selected by DatabaseURL; callers
// construct it explicitly with NewPostgres.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if err := initQuotaSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func initQuotaSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `CREATE TABLE IF NOT EXISTS device_output_counters (
		device_id TEXT NOT NULL,
		local_date TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (device_id, local_date)
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("quota: init schema: %w", err)
	}
	return nil
}

// Add upserts today's row for deviceID, incrementing total by n, and
// returns the new running total. Postgres's own clock supplies "today" so
// every process sharing the database agrees on the reset boundary.
func (p *Postgres) Add(ctx context.Context, deviceID string, n int) (int, error) {
	const q = `
		INSERT INTO device_output_counters (device_id, local_date, total)
		VALUES ($1, to_char(now(), 'YYYY-MM-DD'), $2)
		ON CONFLICT (device_id, local_date)
		DO UPDATE SET total = device_output_counters.total + EXCLUDED.total
		RETURNING total`

	var total int
	if err := p.pool.QueryRow(ctx, q, deviceID, n).Scan(&total); err != nil {
		return 0, fmt.Errorf("quota: add: %w", err)
	}
	return total, nil
}
