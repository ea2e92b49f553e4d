package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers every route with OpenTelemetry instrumentation, naming the
// server span after the route's path pattern.
type Mux struct {
	wrapped Multiplexer
	options []otelhttp.Option
}

// NewMux wraps a multiplexer. Routes are treated as public endpoints: the
// pixel is requested by image proxies and browsers, so incoming trace context
// is linked rather than continued.
func NewMux(wrapped Multiplexer, options ...otelhttp.Option) *Mux {
	return &Mux{
		wrapped: wrapped,
		options: append([]otelhttp.Option{otelhttp.WithPublicEndpoint()}, options...),
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	taggedHandler := otelhttp.NewHandler(
		handler,
		TrimMethod(pattern),
		mux.options...,
	)

	mux.wrapped.Handle(pattern, taggedHandler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// TrimMethod removes a leading HTTP method from a ServeMux pattern, leaving
// the path used as the operation name.
func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
