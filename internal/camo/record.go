package camo

import (
	"time"
)

// Record is a camo URL together with the instant it was last confirmed. The
// zero value is the absent record.
type Record struct {
	Value     string    `json:"value"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewRecord creates a present record, normalizing the timestamp to UTC.
func NewRecord(value string, fetchedAt time.Time) Record {
	return Record{
		Value:     value,
		FetchedAt: fetchedAt.UTC(),
	}
}

// Present is true when the record holds a value with a timestamp. A value
// without a timestamp cannot be aged, so it is not considered present.
func (r Record) Present() bool {
	return r.Value != "" && !r.FetchedAt.IsZero()
}

// Age reports how long ago the record was fetched, relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}

// Stale is true when the record is absent or older than the freshness window.
func (r Record) Stale(now time.Time, window time.Duration) bool {
	if !r.Present() {
		return true
	}

	return r.Age(now) > window
}
