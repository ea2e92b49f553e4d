package camo

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chinmina/pageview/internal/config"
)

// Configure assembles a Manager from configuration: the durable store named
// by the cache location, a new memory slot, and the profile source using
// client for its requests.
func Configure(ctx context.Context, cfg config.CamoConfig, client *http.Client) (*Manager, error) {
	store, err := NewStore(ctx, cfg.CacheLocation)
	if err != nil {
		return nil, fmt.Errorf("camo cache store configuration failed: %w", err)
	}

	slot, err := NewMemorySlot()
	if err != nil {
		return nil, fmt.Errorf("camo memory cache configuration failed: %w", err)
	}

	source := NewSource(SourceConfig{
		ProfileURL:  cfg.ProfileURL,
		FallbackURL: cfg.FallbackURL,
		Marker:      cfg.Marker,
	}, client)

	return NewManager(slot, store, source, WithFreshness(cfg.Freshness)), nil
}
