package main

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chinmina/pageview/internal/audit"
	"github.com/chinmina/pageview/internal/views"
	"github.com/rs/zerolog/log"
)

// purgeScheduler queues a background camo purge without blocking.
type purgeScheduler interface {
	Schedule() bool
}

// handleView records the view, queues a purge of the proxied pixel and serves
// the pixel. The response does not depend on whether either step succeeded.
func handleView(recorder views.Recorder, scheduler purgeScheduler, pixel []byte, trustForwardedFor bool) http.Handler {
	contentLength := strconv.Itoa(len(pixel))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		query := r.URL.Query()
		view := views.View{
			Timestamp: time.Now().UTC(),
			UserAgent: r.UserAgent(),
			IPAddress: clientIP(r, trustForwardedFor),
			Source:    query.Get("src"),
			SourceURI: query.Get("src_uri"),
		}

		entry := audit.Log(r.Context())
		entry.SourceIP = view.IPAddress
		entry.Source = view.Source
		entry.SourceURI = view.SourceURI

		if err := recorder.Record(r.Context(), view); err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("view record failed")
			entry.Error = err.Error()
		} else {
			entry.Recorded = true
		}

		entry.PurgeScheduled = scheduler.Schedule()

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", contentLength)
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write(pixel); err != nil {
			// record failure to log: trying to respond to the client at this
			// point will likely fail
			log.Info().Msgf("failed to write response: %v\n", err)
		}
	})
}

// clientIP is the first X-Forwarded-For hop when the header is trusted,
// otherwise the host of the remote address.
func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
