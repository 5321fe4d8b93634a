package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"flightplan-gateway/internal/cache"
)

// RateLimit allows limit requests per client IP within window for the
// routes it wraps. Counter failures let the request through.
func RateLimit(counter cache.Counter, proxies *TrustedProxies, name string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:" + name + ":" + proxies.ClientIP(r)
			count, err := counter.IncrWithTTL(r.Context(), key, window)
			if err != nil {
				log.Printf("WARN middleware: rate limit key=%s: %v", key, err)
			} else if count > int64(limit) {
				w.Header().Set("Retry-After", retryAfter(window))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(window time.Duration) string {
	seconds := int(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
