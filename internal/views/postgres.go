package views

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS page_views (
		id SERIAL PRIMARY KEY,
		timestamp TEXT NOT NULL,
		user_agent TEXT,
		ip_address TEXT,
		src TEXT,
		src_uri TEXT
	)`,
	// tables created before source tags were recorded
	`ALTER TABLE page_views ADD COLUMN IF NOT EXISTS src TEXT`,
	`ALTER TABLE page_views ADD COLUMN IF NOT EXISTS src_uri TEXT`,
	`CREATE UNIQUE INDEX IF NOT EXISTS page_views_request_idx
		ON page_views (timestamp, user_agent, ip_address)`,
}

const postgresInsert = `INSERT INTO page_views (timestamp, user_agent, ip_address, src, src_uri)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT DO NOTHING`

// PostgresStore records views in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying page_views schema: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) Record(ctx context.Context, v View) error {
	_, err := s.pool.Exec(ctx, postgresInsert,
		formatTimestamp(v.Timestamp),
		v.UserAgent,
		v.IPAddress,
		v.Source,
		v.SourceURI,
	)
	if err != nil {
		return fmt.Errorf("inserting page view: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]View, error) {
	rows, err := s.pool.Query(ctx, recentQuery+` LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying page views: %w", err)
	}
	defer rows.Close()

	return scanViews(rows)
}
