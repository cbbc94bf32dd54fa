package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

// HeaderRequestID is echoed back on every response.
const HeaderRequestID = "X-Request-Id"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs each request at debug level and records its latency
// under the matched route pattern.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.ObserveHTTP(r.Method, route, status, dur)
			logger.Debugw("http request",
				"request_id", w.Header().Get(HeaderRequestID),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RequestIDMiddleware keeps a caller-supplied X-Request-Id or assigns a KSUID.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 64 {
				id = utilities.NewRequestID()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets conservative security headers for a JSON API.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes mounts the identity endpoints on an http.ServeMux. Every
// /identity/ route sits behind the shared-key middleware; health and metrics
// do not.
func RegisterRoutes(logger *zap.SugaredLogger, svc *identity.Service, authCfg auth.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	h := identity.NewHandler(svc, logger)
	guard := auth.Middleware(authCfg, logger)
	protect := func(f http.HandlerFunc) http.Handler { return guard(f) }

	mux.Handle("POST /identity/events", protect(h.Events))
	mux.Handle("POST /identity/alias", protect(h.Alias))
	mux.Handle("GET /identity/admin", protect(h.Admin))
	mux.Handle("POST /identity/gdpr", protect(h.Erase))
	mux.Handle("DELETE /identity/gdpr", protect(h.Erase))
	mux.Handle("GET /identity/resolve", protect(h.Resolve))

	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
