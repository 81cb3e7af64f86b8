package api

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tradejournal/internal/metrics"
	"tradejournal/pkg/journal"
)

type loggingResponseWriter struct {
	middleware.WrapResponseWriter
	errorMessage string
}

func newLoggingResponseWriter(w http.ResponseWriter, r *http.Request) *loggingResponseWriter {
	return &loggingResponseWriter{WrapResponseWriter: middleware.NewWrapResponseWriter(w, r.ProtoMajor)}
}

func (w *loggingResponseWriter) SetErrorMessage(message string) {
	w.errorMessage = message
}

func (w *loggingResponseWriter) ErrorMessage() string {
	return w.errorMessage
}

func (w *loggingResponseWriter) Flush() {
	if flusher, ok := w.WrapResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the change feed upgrade to a websocket through the wrapper.
func (w *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.WrapResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	if hj, ok := w.Unwrap().(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func requestLoggingMiddleware(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newLoggingResponseWriter(w, r)

			next.ServeHTTP(wrapped, r)

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			elapsed := time.Since(start)

			if m != nil && route != "" {
				m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
				m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
			}

			fields := []any{
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"bytes", wrapped.BytesWritten(),
				"duration_ms", elapsed.Milliseconds(),
				"remote_ip", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}

			if message := wrapped.ErrorMessage(); message != "" {
				fields = append(fields, "error_message", message)
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("http request completed", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("http request completed", fields...)
			default:
				logger.Info("http request completed", fields...)
			}
		})
	}
}

func recoveryLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					if recovered == http.ErrAbortHandler {
						panic(recovered)
					}
					logger.Error("panic recovered",
						"request_id", middleware.GetReqID(r.Context()),
						"method", r.Method,
						"path", r.URL.Path,
						"route", routePattern(r),
						"panic", fmt.Sprint(recovered),
						"stack", string(debug.Stack()),
					)

					if statusWriter, ok := w.(interface{ Status() int }); ok {
						if statusWriter.Status() != 0 {
							return
						}
					}
					writeErrorResponse(w, r, http.StatusInternalServerError,
						journal.NewError(journal.ErrCodeInternal, "internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
