package api

import (
	"net/http"
	"strings"
	"time"

	baylog "github.com/cuemby/bay/pkg/log"
)

// authMiddleware enforces Authorization: Bearer <token> on every request it
// wraps. A missing header is 403 Forbidden; a present but wrong token is
// 401 Unauthorized, matching spec's split between "didn't try" and "tried
// and failed".
func authMiddleware(accessToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "missing Authorization header"})
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != accessToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid bearer token"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware applies permissive CORS headers, matching the original's
// allow_origins=["*"] browser-client story, and short-circuits preflight
// OPTIONS requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-SESSION-ID, X-FILE-PATH")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs every request's method, path, status, and
// duration at info level.
func loggingMiddleware(next http.Handler) http.Handler {
	log := baylog.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
