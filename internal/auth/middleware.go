// Package auth guards the identity endpoints with the shared events key,
// sent either verbatim or as a signed bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

// HeaderAPIKey carries the raw shared key.
const HeaderAPIKey = "X-Events-Api-Key"

var ErrKeyNotConfigured = errors.New("EVENTS_API_KEY is not configured")

type Config struct {
	Key string
	// Development bypasses the check when no key is configured.
	Development bool
}

// ConfigFromEnv reads EVENTS_API_KEY and APP_ENV.
func ConfigFromEnv() Config {
	return Config{
		Key:         strings.TrimSpace(os.Getenv("EVENTS_API_KEY")),
		Development: strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "development"),
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// authorized accepts the raw key header or a bearer token signed with the key.
func authorized(r *http.Request, key string) bool {
	if v := r.Header.Get(HeaderAPIKey); v != "" {
		return constantTimeEqual(v, key)
	}
	h := r.Header.Get("Authorization")
	if len(h) < len("bearer ") || !strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return false
	}
	_, err := VerifyToken(key, strings.TrimSpace(h[len("bearer "):]))
	return err == nil
}

// Middleware rejects requests before any handler (and so any store call)
// runs: 500 when the key is missing outside development, 401 on a bad key.
func Middleware(cfg Config, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Key == "" {
				if cfg.Development {
					next.ServeHTTP(w, r)
					return
				}
				logger.Errorw("identity endpoint called without EVENTS_API_KEY", "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrKeyNotConfigured.Error())
				return
			}
			if !authorized(r, cfg.Key) {
				logger.Debugw("unauthorized identity request", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
