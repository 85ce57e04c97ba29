package store

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/logging"
)

var (
	pool *pgxpool.Pool
	once sync.Once
)

// schema is applied by Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS filings (
	accession_number TEXT PRIMARY KEY,
	cik              TEXT,
	ticker           TEXT,
	fiscal_year      INT,
	form_type        TEXT,
	filing_date      TEXT,
	is_amendment     BOOLEAN NOT NULL DEFAULT FALSE,
	data             JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS filings_ticker_year ON filings (ticker, fiscal_year);
`

// InitDB opens the process-wide pool for the given connection URL. Only the
// first call has any effect.
func InitDB(ctx context.Context, url string) error {
	var err error
	once.Do(func() {
		if url == "" {
			err = errors.WithHint(errors.New("database url not set"), "set DATABASE_URL or database.url")
			return
		}

		config, parseErr := pgxpool.ParseConfig(url)
		if parseErr != nil {
			err = errors.Wrap(parseErr, "parse database config")
			return
		}

		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			logging.Logger.Infow("[CACHE] database pool opened", "max_conns", config.MaxConns)
		}
	})
	return err
}

// GetPool returns the database connection pool, nil before InitDB.
func GetPool() *pgxpool.Pool {
	return pool
}

// Migrate creates the filings table when missing.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	if p == nil {
		return errors.New("database pool not initialized")
	}
	if _, err := p.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "migrate filings table")
	}
	return nil
}

// Close closes the database connection pool
func Close() {
	if pool != nil {
		pool.Close()
	}
}
