package views

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const logExport = `[
  {
    "insertId": "a1",
    "timestamp": "2025-09-26T18:39:12.345678Z",
    "httpRequest": {
      "requestMethod": "GET",
      "requestUrl": "https://pixel.example/view?src=github&src_uri=https%3A%2F%2Fgithub.com%2Fsomeone",
      "userAgent": "github-camo (876de43e)",
      "remoteIp": "140.82.115.1"
    }
  },
  {
    "insertId": "a2",
    "timestamp": "2025-09-26T18:40:00Z",
    "httpRequest": {
      "requestMethod": "HEAD",
      "requestUrl": "https://pixel.example/view",
      "userAgent": "curl/8.0",
      "remoteIp": "203.0.113.7"
    }
  },
  {
    "insertId": "a3",
    "timestamp": "2025-09-26T18:41:00Z",
    "httpRequest": {
      "requestMethod": "GET",
      "requestUrl": "https://pixel.example/view",
      "userAgent": "Mozilla/5.0",
      "remoteIp": "203.0.113.8"
    }
  },
  {
    "insertId": "a4",
    "timestamp": "not a time",
    "httpRequest": {"requestMethod": "GET"}
  },
  {
    "insertId": "a5",
    "textPayload": "container started"
  }
]`

func TestParseLogExport(t *testing.T) {
	views, stats, err := ParseLogExport(strings.NewReader(logExport))
	require.NoError(t, err)

	assert.Equal(t, ImportStats{Entries: 5, Views: 2, Skipped: 2, Invalid: 1}, stats)
	assert.Equal(t, []View{
		{
			Timestamp: time.Date(2025, time.September, 26, 18, 39, 12, 345678000, time.UTC),
			UserAgent: "github-camo (876de43e)",
			IPAddress: "140.82.115.1",
			Source:    "github",
			SourceURI: "https://github.com/someone",
		},
		{
			Timestamp: time.Date(2025, time.September, 26, 18, 41, 0, 0, time.UTC),
			UserAgent: "Mozilla/5.0",
			IPAddress: "203.0.113.8",
		},
	}, views)
}

func TestParseLogExport_Invalid(t *testing.T) {
	_, _, err := ParseLogExport(strings.NewReader(`{"not": "an array"}`))
	assert.ErrorContains(t, err, "JSON array")

	_, _, err = ParseLogExport(strings.NewReader(`[{"broken": `))
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestBackfill_RecordsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	views, stats, err := ParseLogExport(strings.NewReader(logExport))
	require.NoError(t, err)

	stats, err = Backfill(ctx, store, views, stats)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Recorded)

	_, err = Backfill(ctx, store, views, ImportStats{})
	require.NoError(t, err)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestBackfill_StopsAtFirstFailure(t *testing.T) {
	recorder := &failingRecorder{failAfter: 1}
	views := []View{{Timestamp: time.Now()}, {Timestamp: time.Now()}, {Timestamp: time.Now()}}

	stats, err := Backfill(context.Background(), recorder, views, ImportStats{Views: 3})

	assert.ErrorContains(t, err, "backfilling view")
	assert.Equal(t, 1, stats.Recorded)
	assert.Equal(t, 2, recorder.calls)
}

type failingRecorder struct {
	calls     int
	failAfter int
}

func (f *failingRecorder) Record(context.Context, View) error {
	f.calls++
	if f.calls > f.failAfter {
		return errors.New("connection reset")
	}
	return nil
}
