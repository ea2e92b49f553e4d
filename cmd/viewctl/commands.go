package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chinmina/pageview/internal/camo"
	"github.com/chinmina/pageview/internal/config"
	"github.com/chinmina/pageview/internal/views"
	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "viewctl",
		Usage: "page view service administration",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create or update the event store schema",
				Action: migrateAction,
			},
			{
				Name:  "backfill",
				Usage: "import views from a Cloud Run request log export",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "log export to read, or - for stdin",
						Required: true,
					},
				},
				Action: backfillAction,
			},
			{
				Name:  "recent",
				Usage: "show the most recent views",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "number of views to show",
						Value:   10,
					},
				},
				Action: recentAction,
			},
			{
				Name:  "camo",
				Usage: "inspect and manage the cached camo URL",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "print the cached value and its age",
						Action: camoShowAction,
					},
					{
						Name:   "refresh",
						Usage:  "resolve the value from the profile page now",
						Action: camoRefreshAction,
					},
					{
						Name:      "set",
						Usage:     "store a value as freshly resolved",
						ArgsUsage: "<camo-url>",
						Action:    camoSetAction,
					},
					{
						Name:   "purge",
						Usage:  "purge the current value once",
						Action: camoPurgeAction,
					},
				},
			},
		},
	}
}

func openStore(ctx context.Context) (views.Store, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("configuration load failed: %w", err)
	}

	store, err := views.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("event store configuration failed: %w", err)
	}

	return store, nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.Root().Writer, "schema up to date")
	return nil
}

func backfillAction(ctx context.Context, cmd *cli.Command) error {
	var in io.Reader = os.Stdin
	if path := cmd.String("file"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening log export: %w", err)
		}
		defer f.Close()
		in = f
	}

	parsed, stats, err := views.ParseLogExport(in)
	if err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	stats, err = views.Backfill(ctx, store, parsed, stats)

	fmt.Fprintf(cmd.Root().Writer,
		"entries: %d\nviews: %d\nskipped: %d\ninvalid: %d\nrecorded: %d\n",
		stats.Entries, stats.Views, stats.Skipped, stats.Invalid, stats.Recorded,
	)

	return err
}

func recentAction(ctx context.Context, cmd *cli.Command) error {
	limit := cmd.Int("limit")
	if limit < 1 {
		return errors.New("limit must be at least 1")
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recent, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tIP\tSOURCE\tSOURCE URI\tUSER AGENT")
	for _, v := range recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			v.Timestamp.Format(time.RFC3339), v.IPAddress, v.Source, v.SourceURI, v.UserAgent)
	}

	return tw.Flush()
}

// withManager runs fn against a camo manager configured from the
// environment.
func withManager(ctx context.Context, fn func(*camo.Manager, config.CamoConfig, *http.Client) error) error {
	cfg, err := config.LoadCamo(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}

	manager, err := camo.Configure(ctx, cfg, client)
	if err != nil {
		return err
	}
	defer manager.Close(ctx)

	return fn(manager, cfg, client)
}

func camoShowAction(ctx context.Context, cmd *cli.Command) error {
	return withManager(ctx, func(m *camo.Manager, cfg config.CamoConfig, _ *http.Client) error {
		out := cmd.Root().Writer

		rec := m.Peek(ctx)
		if !rec.Present() {
			fmt.Fprintln(out, "no cached value")
			return nil
		}

		now := time.Now()
		fmt.Fprintf(out, "value: %s\nfetched_at: %s\nage: %s\nstale: %t\n",
			rec.Value,
			rec.FetchedAt.Format(time.RFC3339),
			rec.Age(now).Round(time.Second),
			rec.Stale(now, cfg.Freshness),
		)
		return nil
	})
}

func camoRefreshAction(ctx context.Context, cmd *cli.Command) error {
	return withManager(ctx, func(m *camo.Manager, _ config.CamoConfig, _ *http.Client) error {
		value, ok := m.Refresh(ctx)
		if !ok {
			return errors.New("source returned no value; cached value unchanged")
		}

		fmt.Fprintln(cmd.Root().Writer, value)
		return nil
	})
}

func camoSetAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return errors.New("expected exactly one argument: <camo-url>")
	}
	value := cmd.Args().First()

	return withManager(ctx, func(m *camo.Manager, _ config.CamoConfig, _ *http.Client) error {
		if err := m.Set(ctx, value); err != nil && !errors.Is(err, camo.ErrStoreUnconfigured) {
			return fmt.Errorf("saving camo value: %w", err)
		}

		fmt.Fprintln(cmd.Root().Writer, value)
		return nil
	})
}

func camoPurgeAction(ctx context.Context, cmd *cli.Command) error {
	return withManager(ctx, func(m *camo.Manager, _ config.CamoConfig, client *http.Client) error {
		value, ok := m.Current(ctx)
		if !ok {
			return errors.New("no camo value could be resolved")
		}

		camo.NewPurger(m, client).Run(ctx)

		fmt.Fprintf(cmd.Root().Writer, "purge attempted: %s\n", value)
		return nil
	})
}
