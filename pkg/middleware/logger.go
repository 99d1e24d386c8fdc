package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/pkg/requestid"
)

// Logger returns a middleware that logs one line per completed HTTP request
// using the global zap logger. Severity follows the response status class.
func Logger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			query := r.URL.RawQuery
			requestID := requestid.FromRequest(r)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				fields := []zap.Field{
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", path),
					zap.String("query", query),
					zap.Int("status", status),
					zap.Int64("bytes", int64(ww.BytesWritten())),
					zap.Duration("latency", time.Since(start)),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("user_agent", r.UserAgent()),
				}

				logger := zap.S().Named("http").Desugar()
				switch {
				case status >= 500:
					logger.Error("request completed", fields...)
				case status >= 400:
					logger.Warn("request completed", fields...)
				case isHealthCheck(r.Method, path):
					logger.Debug("request completed", fields...)
				default:
					logger.Info("request completed", fields...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func isHealthCheck(method string, path string) bool {
	return method == http.MethodGet && path == "/health"
}
