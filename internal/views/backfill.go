package views

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ImportStats summarizes a log export.
type ImportStats struct {
	Entries  int // entries in the export
	Views    int // GET requests converted to views
	Skipped  int // requests that were not GETs
	Invalid  int // GET requests missing a usable timestamp
	Recorded int // views successfully recorded
}

// ParseLogExport reads a Cloud Run request log export (a JSON array of log
// entries) and returns a view for every GET request it contains. This
// recovers views that were served while the event store was unavailable.
func ParseLogExport(r io.Reader) ([]View, ImportStats, error) {
	var stats ImportStats

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, stats, fmt.Errorf("reading log export: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, stats, fmt.Errorf("log export is not valid JSON")
	}

	export := gjson.ParseBytes(data)
	if !export.IsArray() {
		return nil, stats, fmt.Errorf("log export must be a JSON array of entries")
	}

	var result []View
	export.ForEach(func(_, entry gjson.Result) bool {
		stats.Entries++

		req := entry.Get("httpRequest")
		if method := req.Get("requestMethod").String(); method != http.MethodGet {
			log.Debug().Str("method", method).Msg("backfill: skipping non-GET request")
			stats.Skipped++
			return true
		}

		ts, err := time.Parse(time.RFC3339Nano, entry.Get("timestamp").String())
		if err != nil {
			log.Warn().Err(err).Str("insert_id", entry.Get("insertId").String()).
				Msg("backfill: skipping entry with invalid timestamp")
			stats.Invalid++
			return true
		}

		v := View{
			Timestamp: ts.UTC(),
			UserAgent: req.Get("userAgent").String(),
			IPAddress: req.Get("remoteIp").String(),
		}

		if u, err := url.Parse(req.Get("requestUrl").String()); err == nil {
			q := u.Query()
			v.Source = q.Get("src")
			v.SourceURI = q.Get("src_uri")
		}

		result = append(result, v)
		stats.Views++
		return true
	})

	return result, stats, nil
}

// Backfill records each view in order, stopping at the first failure.
// Views already present are ignored by the store.
func Backfill(ctx context.Context, recorder Recorder, views []View, stats ImportStats) (ImportStats, error) {
	for _, v := range views {
		if err := recorder.Record(ctx, v); err != nil {
			return stats, fmt.Errorf("backfilling view at %s: %w", formatTimestamp(v.Timestamp), err)
		}
		stats.Recorded++
	}

	return stats, nil
}
