package testhelpers

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// MockProfileServer serves a profile page that renders the pixel through an
// image proxy, the way a rendered README does.
type MockProfileServer struct {
	Server       *httptest.Server
	CamoURL      atomic.Value // string: proxied URL rendered as the img src
	PixelURL     string       // original image URL, rendered as data-canonical-src
	StatusCode   atomic.Int32 // HTTP status code to return (200 if not set)
	requestCount atomic.Int32
}

// SetupMockProfileServer creates a profile page server whose page contains an
// unrelated image followed by the pixel image.
func SetupMockProfileServer(t *testing.T, camoURL string) *MockProfileServer {
	t.Helper()

	mock := &MockProfileServer{
		PixelURL: "https://pixel.example/view?src=profile",
	}
	mock.CamoURL.Store(camoURL)
	mock.StatusCode.Store(http.StatusOK)

	router := http.NewServeMux()

	router.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		mock.requestCount.Add(1)

		status := int(mock.StatusCode.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html><body>
<article class="markdown-body">
<p><img src="https://camo.example/unrelated" data-canonical-src="https://badges.example/build.svg" alt="build"></p>
<p><img src="%s" data-canonical-src="%s" alt="" style="max-width: 100%%;"></p>
</article>
</body></html>`,
			html.EscapeString(mock.CamoURL.Load().(string)),
			html.EscapeString(mock.PixelURL),
		)
	})

	mock.Server = httptest.NewServer(router)
	return mock
}

// URL is the profile page address.
func (m *MockProfileServer) URL() string {
	return m.Server.URL + "/profile"
}

// RequestCount is the number of page requests received.
func (m *MockProfileServer) RequestCount() int {
	return int(m.requestCount.Load())
}

// Close shuts down the mock server.
func (m *MockProfileServer) Close() {
	m.Server.Close()
}

// MockCamoServer stands in for the image proxy, accepting PURGE requests.
type MockCamoServer struct {
	Server     *httptest.Server
	StatusCode atomic.Int32 // HTTP status code to return for purges (200 if not set)
	purgeCount atomic.Int32
	lastPath   atomic.Value
	purged     chan string
}

// SetupMockCamoServer creates an image proxy server. Each accepted or rejected
// purge is also published on Purged.
func SetupMockCamoServer(t *testing.T) *MockCamoServer {
	t.Helper()

	mock := &MockCamoServer{
		purged: make(chan string, 100),
	}
	mock.StatusCode.Store(http.StatusOK)
	mock.lastPath.Store("")

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "PURGE" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		mock.purgeCount.Add(1)
		mock.lastPath.Store(r.URL.Path)
		select {
		case mock.purged <- r.URL.Path:
		default:
		}

		status := int(mock.StatusCode.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"status": "ok"}`))
		}
	}))

	return mock
}

// CamoURL returns a proxied image URL served by this mock.
func (m *MockCamoServer) CamoURL(path string) string {
	return m.Server.URL + path
}

// PurgeCount is the number of purge requests received.
func (m *MockCamoServer) PurgeCount() int {
	return int(m.purgeCount.Load())
}

// LastPath is the path of the most recent purge request.
func (m *MockCamoServer) LastPath() string {
	return m.lastPath.Load().(string)
}

// Purged publishes the path of each purge request as it arrives.
func (m *MockCamoServer) Purged() <-chan string {
	return m.purged
}

// Close shuts down the mock server.
func (m *MockCamoServer) Close() {
	m.Server.Close()
}
