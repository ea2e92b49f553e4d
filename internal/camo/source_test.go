package camo

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chinmina/pageview/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCamoURL(t *testing.T) {
	cases := []struct {
		name     string
		doc      string
		marker   string
		expected string
		found    bool
	}{
		{
			name:     "canonical source matches",
			doc:      `<p><img src="https://camo.example/abc" data-canonical-src="https://pixel.example/view?src=gh"></p>`,
			marker:   "pixel.example/view",
			expected: "https://camo.example/abc",
			found:    true,
		},
		{
			name:     "first matching image wins",
			doc:      `<img src="https://camo.example/badge" data-canonical-src="https://badges.example/x.svg"><img src="https://camo.example/one" data-canonical-src="https://pixel.example/view"><img src="https://camo.example/two" data-canonical-src="https://pixel.example/view">`,
			marker:   "/view",
			expected: "https://camo.example/one",
			found:    true,
		},
		{
			name:     "src used when no canonical source",
			doc:      `<img alt="" src="https://pixel.example/view?src=direct"/>`,
			marker:   "/view",
			expected: "https://pixel.example/view?src=direct",
			found:    true,
		},
		{
			name:     "canonical source takes precedence over src",
			doc:      `<img src="https://camo.example/view-like" data-canonical-src="https://badges.example/x.svg">`,
			marker:   "/view",
			expected: "",
			found:    false,
		},
		{
			name:     "entities decoded",
			doc:      `<img src="https://camo.example/abc?a=1&amp;b=2" data-canonical-src="https://pixel.example/view">`,
			marker:   "/view",
			expected: "https://camo.example/abc?a=1&b=2",
			found:    true,
		},
		{
			name:   "no marker on page",
			doc:    `<html><body><img src="https://camo.example/abc" data-canonical-src="https://other.example/img.png"></body></html>`,
			marker: "/view",
		},
		{
			name:   "marker outside an image",
			doc:    `<a href="https://pixel.example/view">https://pixel.example/view</a>`,
			marker: "/view",
		},
		{
			name:   "empty document",
			doc:    ``,
			marker: "/view",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actual, found := ExtractCamoURL(strings.NewReader(tc.doc), tc.marker)

			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestScrapeSource_Success(t *testing.T) {
	profile := testhelpers.SetupMockProfileServer(t, "https://camo.example/abc")
	defer profile.Close()

	source := NewScrapeSource(profile.URL(), "/view", &http.Client{Timeout: 5 * time.Second})

	value, ok := source.Fetch(context.Background())

	require.True(t, ok)
	assert.Equal(t, "https://camo.example/abc", value)
	assert.Equal(t, 1, profile.RequestCount())
}

func TestScrapeSource_ErrorStatus(t *testing.T) {
	profile := testhelpers.SetupMockProfileServer(t, "https://camo.example/abc")
	defer profile.Close()
	profile.StatusCode.Store(http.StatusTooManyRequests)

	source := NewScrapeSource(profile.URL(), "/view", nil)

	value, ok := source.Fetch(context.Background())

	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestScrapeSource_MarkerMissing(t *testing.T) {
	profile := testhelpers.SetupMockProfileServer(t, "https://camo.example/abc")
	defer profile.Close()

	source := NewScrapeSource(profile.URL(), "/not-on-the-page", nil)

	_, ok := source.Fetch(context.Background())

	assert.False(t, ok)
}

func TestScrapeSource_NetworkError(t *testing.T) {
	profile := testhelpers.SetupMockProfileServer(t, "https://camo.example/abc")
	url := profile.URL()
	profile.Close()

	source := NewScrapeSource(url, "/view", nil)

	_, ok := source.Fetch(context.Background())

	assert.False(t, ok)
}

func TestScrapeSource_InvalidURL(t *testing.T) {
	source := NewScrapeSource("://not a url", "/view", nil)

	_, ok := source.Fetch(context.Background())

	assert.False(t, ok)
}

func TestStaticSource(t *testing.T) {
	value, ok := StaticSource("https://camo.example/fallback").Fetch(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "https://camo.example/fallback", value)

	value, ok = StaticSource("").Fetch(context.Background())
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestNewSource_Selection(t *testing.T) {
	source := NewSource(SourceConfig{FallbackURL: "https://camo.example/fallback"}, nil)
	assert.Equal(t, StaticSource("https://camo.example/fallback"), source)

	source = NewSource(SourceConfig{
		ProfileURL:  "https://github.example/someone",
		FallbackURL: "https://camo.example/fallback",
		Marker:      "/view",
	}, nil)
	assert.IsType(t, &ScrapeSource{}, source)
}
