package camo

import (
	"context"

	"github.com/chinmina/pageview/internal/cache"
	"github.com/rs/zerolog/log"
)

const slotKey = "camo"

// MemorySlot is the process-local copy of the camo record. It holds a single
// entry that never expires: freshness is decided by the Manager, and a stale
// value must stay available when a refresh fails.
type MemorySlot struct {
	cache cache.Cache[Record]
}

// NewMemorySlot creates an empty slot backed by an instrumented in-memory
// cache.
func NewMemorySlot() (*MemorySlot, error) {
	memory, err := cache.NewMemory[Record](0, 16)
	if err != nil {
		return nil, err
	}

	return NewMemorySlotWith(cache.NewInstrumented(memory, "memory")), nil
}

// NewMemorySlotWith creates a slot over the supplied cache.
func NewMemorySlotWith(c cache.Cache[Record]) *MemorySlot {
	return &MemorySlot{cache: c}
}

// Read returns the current record, or the absent record if nothing has been
// written.
func (s *MemorySlot) Read(ctx context.Context) Record {
	rec, found, err := s.cache.Get(ctx, slotKey)
	if err != nil {
		log.Warn().Err(err).Msg("camo: memory slot read failed, treating as empty")
		return Record{}
	}
	if !found {
		return Record{}
	}

	return rec
}

// Write replaces the slot contents.
func (s *MemorySlot) Write(ctx context.Context, rec Record) {
	if err := s.cache.Set(ctx, slotKey, rec); err != nil {
		log.Warn().Err(err).Msg("camo: memory slot write failed")
	}
}

// Close releases the underlying cache.
func (s *MemorySlot) Close() error {
	return s.cache.Close()
}
