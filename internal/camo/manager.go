package camo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// DefaultFreshness is how long a resolved camo URL is reused before the source
// is consulted again.
const DefaultFreshness = 24 * time.Hour

// Manager owns the freshness policy for the camo URL. The durable store is
// read on every access so that separate processes sharing it converge; the
// memory slot mirrors whatever was read or resolved last.
//
// Refreshes in one process are collapsed so that overlapping stale reads make
// a single source call. Processes sharing a store are not coordinated: the
// last successful write wins.
type Manager struct {
	slot      *MemorySlot
	store     Store
	source    Source
	freshness time.Duration
	now       func() time.Time
	group     singleflight.Group
	refreshes metric.Int64Counter
}

type ManagerOption func(*Manager)

// WithFreshness sets the window in which a value is reused without refresh.
func WithFreshness(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.freshness = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(slot *MemorySlot, store Store, source Source, opts ...ManagerOption) *Manager {
	m := &Manager{
		slot:      slot,
		store:     store,
		source:    source,
		freshness: DefaultFreshness,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	meter := otel.Meter("github.com/chinmina/pageview/internal/camo")
	counter, err := meter.Int64Counter(
		"camo.refresh",
		metric.WithDescription("Camo URL refresh attempts by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	m.refreshes = counter

	return m
}

// Current returns the camo URL, refreshing it from the source when the cached
// copy is missing or older than the freshness window. When the refresh fails
// the last known value is returned, however old. The boolean is false only
// when no value has ever been resolved.
func (m *Manager) Current(ctx context.Context) (string, bool) {
	rec := m.Peek(ctx)
	now := m.now()

	if !rec.Stale(now, m.freshness) {
		return rec.Value, true
	}

	log.Ctx(ctx).Debug().
		Bool("present", rec.Present()).
		Dur("age", rec.Age(now)).
		Msg("camo: cached value stale, refreshing")

	if value, ok := m.Refresh(ctx); ok {
		return value, true
	}

	// stale-but-available: whatever the slot holds now
	last := m.slot.Read(ctx)
	return last.Value, last.Present()
}

// Peek returns the cached record without refreshing it. A present durable
// record replaces the memory slot.
func (m *Manager) Peek(ctx context.Context) Record {
	if durable := m.store.Load(ctx); durable.Present() {
		m.slot.Write(ctx, durable)
		return durable
	}

	return m.slot.Read(ctx)
}

// Refresh asks the source for a fresh value regardless of the cached record's
// age. A successful result is written to both tiers; a failure leaves them
// untouched.
func (m *Manager) Refresh(ctx context.Context) (string, bool) {
	v, _, _ := m.group.Do(slotKey, func() (any, error) {
		value, ok := m.source.Fetch(ctx)
		if !ok {
			m.recordRefresh(ctx, "failed")
			log.Ctx(ctx).Info().Msg("camo: refresh produced no value, keeping last known value")
			return "", nil
		}

		err := m.Set(ctx, value)
		switch {
		case errors.Is(err, ErrStoreUnconfigured):
			m.recordRefresh(ctx, "memory_only")
		case err != nil:
			m.recordRefresh(ctx, "unpersisted")
			log.Ctx(ctx).Warn().Err(err).Msg("camo: refreshed value not persisted, memory only")
		default:
			m.recordRefresh(ctx, "success")
		}

		return value, nil
	})

	value, _ := v.(string)
	return value, value != ""
}

// Set stores value as freshly confirmed. The memory slot is always updated;
// the returned error reports a failed durable write.
func (m *Manager) Set(ctx context.Context, value string) error {
	if value == "" {
		return errors.New("camo value must not be empty")
	}

	rec := NewRecord(value, m.now())
	m.slot.Write(ctx, rec)

	return m.store.Save(ctx, rec)
}

func (m *Manager) recordRefresh(ctx context.Context, outcome string) {
	if m.refreshes == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("camo.refresh.outcome", outcome)))
}

// Close releases the memory slot. The durable store needs no cleanup.
func (m *Manager) Close(context.Context) error {
	return m.slot.Close()
}
