package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByKey returns a transport-level flood guard keyed by the
// authenticated API key, falling back to client IP for requests that
// carry no claims. This is distinct from quota enforcement: quota
// windows are the product surface, this limiter only protects the
// service itself from request floods.
func RateLimitByKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims, ok := GetKeyClaims(r.Context()); ok {
				return "key:" + claims.KeyID, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Useful for public endpoints or as a global fallback.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
