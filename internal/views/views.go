package views

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form used for stored view timestamps.
const TimestampLayout = time.RFC3339Nano

// View is a single pixel request.
type View struct {
	Timestamp time.Time
	UserAgent string
	IPAddress string
	// Source and SourceURI are free-text tags supplied by the embedding page
	// as the src and src_uri query parameters.
	Source    string
	SourceURI string
}

// Recorder persists views. Duplicate views are acceptable; stores ignore
// exact duplicates rather than failing.
type Recorder interface {
	Record(ctx context.Context, v View) error
}

// Store is a Recorder that owns its schema and connection.
type Store interface {
	Recorder
	Migrate(ctx context.Context) error
	// Recent returns up to limit views, newest first.
	Recent(ctx context.Context, limit int) ([]View, error)
	Close()
}

// Open connects to the event store named by databaseURL. Postgres URLs use a
// pgx pool; sqlite:// and file: URLs use an embedded SQLite database.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)

	case strings.HasPrefix(databaseURL, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite://"))

	case strings.HasPrefix(databaseURL, "file:"):
		return OpenSQLite(ctx, databaseURL)

	default:
		return nil, fmt.Errorf("unsupported database URL scheme: expected postgres://, sqlite:// or file:")
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid view timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// recentQuery selects views newest first. Columns are nullable in tables
// created by earlier versions, so they are coalesced to empty strings.
const recentQuery = `SELECT timestamp, COALESCE(user_agent, ''), COALESCE(ip_address, ''),
		COALESCE(src, ''), COALESCE(src_uri, '')
	FROM page_views ORDER BY id DESC`

// rowScanner is satisfied by both database/sql and pgx rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanViews(rows rowScanner) ([]View, error) {
	var result []View
	for rows.Next() {
		var (
			ts string
			v  View
		)
		if err := rows.Scan(&ts, &v.UserAgent, &v.IPAddress, &v.Source, &v.SourceURI); err != nil {
			return nil, fmt.Errorf("reading page view: %w", err)
		}

		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		v.Timestamp = t

		result = append(result, v)
	}

	return result, rows.Err()
}
