package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/edgerelay/internal/logging"
)

// HTTPLoggingMiddleware logs HTTP requests with appropriate log levels based on status codes.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	logger := logging.GetLogger("http")

	// Extract request information
	method := ctx.Method()
	path := ctx.URL().Path
	query := ctx.URL().RawQuery
	userAgent := ctx.Header("User-Agent")
	remoteAddr := ctx.RemoteAddr()

	// Build base log attributes
	logAttrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("remote_addr", remoteAddr),
	}

	if query != "" {
		logAttrs = append(logAttrs, slog.String("query", query))
	}

	if userAgent != "" {
		logAttrs = append(logAttrs, slog.String("user_agent", userAgent))
	}

	// Call the next handler
	next(ctx)

	// Calculate duration and get response details
	duration := time.Since(start)
	status := ctx.Status()

	// Add response attributes
	logAttrs = append(logAttrs,
		slog.Int("status", status),
		slog.Duration("duration", duration),
	)

	logRequest(ctx.Context(), logger, method, status, logAttrs)
}

// logRequest picks the level from the method and status code.
func logRequest(ctx context.Context, logger *slog.Logger, method string, status int, logAttrs []slog.Attr) {
	message := "HTTP request completed"
	switch {
	case method == http.MethodOptions:
		// CORS preflight requests - DEBUG level
		logger.LogAttrs(ctx, slog.LevelDebug, message, logAttrs...)
	case status >= 500:
		logger.LogAttrs(ctx, slog.LevelError, message, logAttrs...)
	case status >= 400:
		logger.LogAttrs(ctx, slog.LevelWarn, message, logAttrs...)
	default:
		logger.LogAttrs(ctx, slog.LevelInfo, message, logAttrs...)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// LoggingHandler logs requests to handlers mounted outside huma the same way
// HTTPLoggingMiddleware does. Do not wrap handlers that hijack the
// connection.
func LoggingHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		logAttrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if ua := r.UserAgent(); ua != "" {
			logAttrs = append(logAttrs, slog.String("user_agent", ua))
		}
		logRequest(r.Context(), logging.GetLogger("http"), r.Method, status, logAttrs)
	})
}
