package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chinmina/pageview/internal/camo"
	"github.com/chinmina/pageview/internal/config"
	"github.com/chinmina/pageview/internal/server"
	"github.com/chinmina/pageview/internal/testhelpers"
	"github.com/chinmina/pageview/internal/views"
	"github.com/stretchr/testify/require"
)

// APITestHarness runs the full route set against an in-memory event store,
// a mock profile page and a mock image proxy.
type APITestHarness struct {
	t           *testing.T
	Server      *httptest.Server
	ProfileMock *testhelpers.MockProfileServer
	CamoMock    *testhelpers.MockCamoServer
	Store       views.Store
	Manager     *camo.Manager
	cacheFile   string
}

// APITestHarnessOption configures the API test harness.
type APITestHarnessOption func(*config.Config)

// WithTrustedForwardedFor takes client addresses from X-Forwarded-For.
func WithTrustedForwardedFor() APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Server.TrustForwardedFor = true
	}
}

// NewAPITestHarness creates the harness. Cleanup is handled via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)
	hooks := server.ShutdownHooks{}

	t.Cleanup(func() {
		hooks.Execute(context.Background())
	})

	harness := &APITestHarness{t: t}

	harness.CamoMock = testhelpers.SetupMockCamoServer(t)
	hooks.AddClose("camo", harness.CamoMock)

	harness.ProfileMock = testhelpers.SetupMockProfileServer(t, harness.CamoMock.CamoURL("/pixel-token"))
	hooks.AddClose("profile", harness.ProfileMock)

	harness.cacheFile = t.TempDir() + "/camo.json"

	cfg := config.Config{
		Camo: config.CamoConfig{
			ProfileURL:     harness.ProfileMock.URL(),
			Marker:         "/view",
			CacheLocation:  harness.cacheFile,
			Freshness:      time.Hour,
			HTTPTimeout:    5 * time.Second,
			PurgeTimeout:   5 * time.Second,
			PurgeQueueSize: 8,
			PurgeWorkers:   1,
		},
		Database: config.DatabaseConfig{
			URL: "sqlite://:memory:",
		},
		Observe: config.ObserveConfig{
			Enabled: false, // Disable observability for tests
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	ctx := context.Background()

	store, err := views.Open(ctx, cfg.Database.URL)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	harness.Store = store
	hooks.AddClose("database", store)

	client := &http.Client{Timeout: cfg.Camo.HTTPTimeout}

	manager, err := camo.Configure(ctx, cfg.Camo, client)
	require.NoError(t, err)
	harness.Manager = manager
	hooks.AddContext("camo cache", manager.Close)

	scheduler := camo.NewScheduler(camo.NewPurger(manager, client), camo.SchedulerConfig{
		QueueSize: cfg.Camo.PurgeQueueSize,
		Workers:   cfg.Camo.PurgeWorkers,
		Timeout:   cfg.Camo.PurgeTimeout,
	})
	hooks.AddContext("purge scheduler", scheduler.Close)

	handler := configureServerRoutes(cfg, store, scheduler, transparentPixel)

	harness.Server = httptest.NewServer(handler)
	hooks.AddClose("api-server", harness.Server)

	return harness
}

// Get performs a GET request against the API and returns the status and body.
func (h *APITestHarness) Get(path string, headers map[string]string) (*http.Response, []byte) {
	h.t.Helper()

	req, err := http.NewRequest(http.MethodGet, h.Server.URL+path, nil)
	require.NoError(h.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Server.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)

	return resp, body
}

// AwaitPurge waits for the image proxy to receive a purge and returns its path.
func (h *APITestHarness) AwaitPurge() (string, error) {
	select {
	case path := <-h.CamoMock.Purged():
		return path, nil
	case <-time.After(5 * time.Second):
		return "", fmt.Errorf("no purge received after %d requests", h.CamoMock.PurgeCount())
	}
}
