// viewctl administers the page view service: the event store schema, log
// backfills and the cached camo URL.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	configureLogging()

	ctx := context.Background()

	app := newApp()
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return 0
}

// configureLogging writes human readable logs to stderr so that command
// output on stdout stays parseable.
func configureLogging() {
	level := zerolog.InfoLevel
	if os.Getenv("ENV") == "development" {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().
		Level(level)

	zerolog.DefaultContextLogger = &log.Logger
}
