package views

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS page_views (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		user_agent TEXT,
		ip_address TEXT,
		src TEXT,
		src_uri TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS page_views_request_idx
		ON page_views (timestamp, user_agent, ip_address)`,
}

const sqliteInsert = `INSERT INTO page_views (timestamp, user_agent, ip_address, src, src_uri)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING`

// SQLiteStore records views in an embedded SQLite database, for local
// development.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dsn, which is a path, a file: URI or
// ":memory:".
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// a single connection serializes writers and keeps :memory: databases
	// shared across calls
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying page_views schema: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, v View) error {
	_, err := s.db.ExecContext(ctx, sqliteInsert,
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

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]View, error) {
	rows, err := s.db.QueryContext(ctx, recentQuery+` LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying page views: %w", err)
	}
	defer rows.Close()

	return scanViews(rows)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}
