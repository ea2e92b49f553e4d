package camo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// Source resolves a fresh camo URL. Implementations never return errors: any
// failure is logged and reported as "no value".
type Source interface {
	Fetch(ctx context.Context) (string, bool)
}

// SourceConfig describes where a fresh camo URL comes from.
type SourceConfig struct {
	// ProfileURL is the page that renders the pixel through the image proxy.
	ProfileURL string
	// FallbackURL is used in place of scraping when ProfileURL is empty.
	FallbackURL string
	// Marker identifies the pixel image on the profile page.
	Marker string
}

// NewSource scrapes the profile page when one is configured, and otherwise
// returns the static fallback without touching the network.
func NewSource(cfg SourceConfig, client *http.Client) Source {
	if cfg.ProfileURL == "" {
		log.Info().Bool("fallback_configured", cfg.FallbackURL != "").
			Msg("camo: no profile URL configured, using fallback value")
		return StaticSource(cfg.FallbackURL)
	}

	return NewScrapeSource(cfg.ProfileURL, cfg.Marker, client)
}

// StaticSource always returns the same value. An empty value means absent.
type StaticSource string

func (s StaticSource) Fetch(context.Context) (string, bool) {
	return string(s), s != ""
}

// maxProfileBytes bounds how much of the profile page is parsed.
const maxProfileBytes = 5 << 20 // 5 MB

// ScrapeSource fetches a profile page and extracts the proxied URL of the
// image whose original source contains the marker.
type ScrapeSource struct {
	profileURL string
	marker     string
	client     *http.Client
}

func NewScrapeSource(profileURL, marker string, client *http.Client) *ScrapeSource {
	if client == nil {
		client = http.DefaultClient
	}

	return &ScrapeSource{
		profileURL: profileURL,
		marker:     marker,
		client:     client,
	}
}

func (s *ScrapeSource) Fetch(ctx context.Context) (string, bool) {
	l := log.Ctx(ctx).With().Str("profile_url", s.profileURL).Logger()

	body, err := s.get(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("camo: profile page fetch failed")
		return "", false
	}
	defer body.Close()

	camoURL, found := ExtractCamoURL(io.LimitReader(body, maxProfileBytes), s.marker)
	if !found {
		l.Warn().Str("marker", s.marker).Msg("camo: marker not found on profile page")
		return "", false
	}

	l.Debug().Str("camo_url", camoURL).Msg("camo: resolved from profile page")
	return camoURL, true
}

func (s *ScrapeSource) get(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating profile request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting profile page: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, fmt.Errorf("profile page returned status %d", res.StatusCode)
	}

	return res.Body, nil
}

// ExtractCamoURL scans an HTML document for the first <img> whose original
// source contains marker, and returns that image's src. The original source is
// the data-canonical-src attribute the proxy adds when rewriting; an image
// without one is matched on src directly.
func ExtractCamoURL(r io.Reader, marker string) (string, bool) {
	z := html.NewTokenizer(r)

	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "img" || !hasAttr {
				continue
			}

			var src, canonical string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "src":
					src = string(val)
				case "data-canonical-src":
					canonical = string(val)
				}
				if !more {
					break
				}
			}

			original := canonical
			if original == "" {
				original = src
			}

			if src != "" && strings.Contains(original, marker) {
				return src, true
			}
		}
	}
}
