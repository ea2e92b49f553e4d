package camo

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// MethodPurge asks a caching proxy to drop its copy of a resource.
const MethodPurge = "PURGE"

// Resolver supplies the camo URL to purge.
type Resolver interface {
	Current(ctx context.Context) (string, bool)
}

// Purger invalidates the image proxy's cached copy of the pixel. It is best
// effort: failures are logged and never retried.
type Purger struct {
	resolver Resolver
	client   *http.Client
	runs     metric.Int64Counter
}

func NewPurger(resolver Resolver, client *http.Client) *Purger {
	if client == nil {
		client = http.DefaultClient
	}

	meter := otel.Meter("github.com/chinmina/pageview/internal/camo")
	runs, err := meter.Int64Counter(
		"camo.purge.runs",
		metric.WithDescription("Camo purge runs by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Purger{
		resolver: resolver,
		client:   client,
		runs:     runs,
	}
}

// Run resolves the current camo URL and sends a single purge request for it.
// Nothing is sent when no URL can be resolved.
func (p *Purger) Run(ctx context.Context) {
	tracer := otel.Tracer("github.com/chinmina/pageview/internal/camo")
	ctx, span := tracer.Start(ctx, "camo.purge")
	defer span.End()

	camoURL, ok := p.resolver.Current(ctx)
	if !ok {
		log.Ctx(ctx).Info().Msg("camo: no URL resolved, skipping purge")
		span.SetStatus(codes.Ok, "no camo URL")
		p.record(ctx, "skipped")
		return
	}
	span.SetAttributes(attribute.String("camo.url", camoURL))

	l := log.Ctx(ctx).With().Str("camo_url", camoURL).Logger()

	if err := p.purge(ctx, camoURL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "purge failed")
		l.Warn().Err(err).Msg("camo: purge failed")
		p.record(ctx, "failed")
		return
	}

	span.SetStatus(codes.Ok, "purged")
	l.Debug().Msg("camo: purge accepted")
	p.record(ctx, "success")
}

func (p *Purger) purge(ctx context.Context, camoURL string) error {
	req, err := http.NewRequestWithContext(ctx, MethodPurge, camoURL, nil)
	if err != nil {
		return fmt.Errorf("creating purge request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending purge request: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("purge returned status %d", res.StatusCode)
	}

	return nil
}

func (p *Purger) record(ctx context.Context, outcome string) {
	if p.runs == nil {
		return
	}
	p.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("camo.purge.outcome", outcome)))
}
