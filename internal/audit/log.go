// Package audit writes one structured log entry per handled request,
// describing what the request did to the view log and the purge queue.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at.
const Level = zerolog.InfoLevel

// Entry is the audit record for a single request. Handlers fill in what they
// know through Log; the middleware writes it when the request completes.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Source    string
	SourceURI string

	Recorded       bool
	PurgeScheduled bool

	Error string
}

type contextKey struct{}

// MarshalZerologObject nests the request fields under "request" and the view
// outcome under "view". The "origin" dict is omitted when the view carried no
// source parameters.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	ev.Dict("view", zerolog.Dict().
		Bool("recorded", e.Recorded).
		Bool("purgeScheduled", e.PurgeScheduled),
	)

	NewOptionalEvent(nil).
		Str("src", e.Source).
		Str("srcURI", e.SourceURI).
		Set(ev, "origin")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin captures the request details available before the handler runs.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	} else {
		e.SourceIP = r.RemoteAddr
	}
}

// End returns a func to be deferred that writes the entry. A panic in the
// handler is recorded in the entry and then re-raised.
func (e *Entry) End(ctx context.Context) func() {
	start := time.Now()

	return func() {
		r := recover()
		if r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)

			if e.Status == 0 {
				e.Status = http.StatusInternalServerError
			}
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).
			EmbedObject(e).
			Dur("duration", time.Since(start)).
			Msg("audit_event")

		if r != nil {
			panic(r)
		}
	}
}

// Context returns the entry stored in ctx, creating and attaching one if
// there is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, contextKey{}, e), e
}

// Log returns the entry for the current request. Outside of the middleware
// the returned entry is detached and never written.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware attaches an audit entry to each request and writes it when the
// request completes, including when the handler panics.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.Begin(r)
			defer entry.End(ctx)()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))
			entry.Status = sw.status
		})
	}
}

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
