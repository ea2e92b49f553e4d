package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chinmina/pageview/internal/audit"
	"github.com/chinmina/pageview/internal/camo"
	"github.com/chinmina/pageview/internal/config"
	"github.com/chinmina/pageview/internal/observe"
	"github.com/chinmina/pageview/internal/server"
	"github.com/chinmina/pageview/internal/views"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

func configureServerRoutes(cfg config.Config, recorder views.Recorder, scheduler purgeScheduler, pixel []byte) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The pixel endpoint accepts no body: anything larger than this is abuse.
	requestLimitBytes := int64(4 << 10) // 4 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	auditedRouteMiddleware := alice.New(requestLimiter, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("GET /view", auditedRouteMiddleware.Then(handleView(recorder, scheduler, pixel, cfg.Server.TrustForwardedFor)))

	// healthchecks are not included in telemetry or auditing
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	// registered first so that it is flushed after everything that reports to it
	hooks.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	pixel, err := loadPixel(cfg.Server.PixelPath)
	if err != nil {
		return fmt.Errorf("pixel load failed: %w", err)
	}

	store, err := views.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("event store configuration failed: %w", err)
	}
	hooks.AddClose("database", store)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("event store migration failed: %w", err)
	}

	camoClient := &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   cfg.Camo.HTTPTimeout,
	}

	manager, err := camo.Configure(ctx, cfg.Camo, camoClient)
	if err != nil {
		return err
	}
	hooks.AddContext("camo cache", manager.Close)

	scheduler := camo.NewScheduler(camo.NewPurger(manager, camoClient), camo.SchedulerConfig{
		QueueSize: cfg.Camo.PurgeQueueSize,
		Workers:   cfg.Camo.PurgeWorkers,
		Timeout:   cfg.Camo.PurgeTimeout,
	})
	hooks.AddContext("purge scheduler", scheduler.Close)

	handler := configureServerRoutes(cfg, store, scheduler, pixel)

	// start the server
	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		hooks.Execute(ctx)
		return fmt.Errorf("listen failed: %w", err)
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	err = server.Serve(ctx, srv, listener, shutdownTimeout, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info().Str("module", buildInfo.Main.Path)
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
