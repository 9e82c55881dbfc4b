package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig allows any origin, as uploads and viewers come from
// arbitrary devices and pages.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Accept", "Origin", "X-Requested-With"},
		MaxAge:       86400,
	}
}

// corsHeaders is a CORSConfig rendered to header values once.
type corsHeaders [][2]string

func (c CORSConfig) headers() corsHeaders {
	return corsHeaders{
		{"Access-Control-Allow-Origin", c.AllowOrigin},
		{"Access-Control-Allow-Methods", strings.Join(c.AllowMethods, ", ")},
		{"Access-Control-Allow-Headers", strings.Join(c.AllowHeaders, ", ")},
		{"Access-Control-Max-Age", strconv.Itoa(c.MaxAge)},
	}
}

func (h corsHeaders) apply(set func(name, value string)) {
	for _, kv := range h {
		set(kv[0], kv[1])
	}
}

// NewCORSMiddleware creates CORS middleware with the given configuration
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	headers := config.headers()

	return func(ctx huma.Context, next func(huma.Context)) {
		headers.apply(ctx.SetHeader)

		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}

		next(ctx)
	}
}

// WithCORS sets CORS headers on responses of a handler mounted outside huma.
func WithCORS(config CORSConfig, next http.Handler) http.Handler {
	headers := config.headers()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers.apply(w.Header().Set)
		next.ServeHTTP(w, r)
	})
}

// AddCORSHandler answers preflight requests for every path. Huma middleware
// never sees OPTIONS requests for routes it has no operation for.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	headers := config.headers()

	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, _ *http.Request) {
		headers.apply(w.Header().Set)
		w.WriteHeader(http.StatusNoContent)
	})
}
