package mw

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/akmhq/akm-api/internal/service"
)

// Quota returns middleware that charges one request against the
// authenticated key's quota before passing it on. Denied requests get a
// 429 with Retry-After; every response carries the X-RateLimit headers
// for the tightest enforced window. Errors during the check fail closed
// with a 503.
//
// After the wrapped handler returns, the request is recorded as a usage
// metric and the key's alert rules are evaluated against the window
// consumption.
func Quota(quota *service.QuotaService, usage *service.UsageService, alert *service.AlertService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetKeyClaims(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			decision, err := quota.CheckAndConsume(r.Context(), claims.KeyID, 1)
			if err != nil {
				logger.Error("quota check failed", "key_id", claims.KeyID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "quota check unavailable")
				return
			}

			setRateLimitHeaders(w, decision)

			if !decision.Allowed {
				rlErr := service.RateLimitErrorFrom(claims.KeyID, decision)
				w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfter(time.Now().UTC())))
				writeError(w, http.StatusTooManyRequests, rlErr.Error())
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			started := time.Now()
			next.ServeHTTP(rec, r)

			// 4xx and 5xx both count as failed requests in the usage metrics.
			usage.RecordRequest(r.Context(), claims.KeyID, rec.status < 400, time.Since(started))
			if decision.Limit > 0 {
				alert.EvaluateForKey(r.Context(), claims.KeyID, claims.ProjectID, "requests_per_"+string(decision.Window), decision.Used, decision.Limit)
			}
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d *service.Decision) {
	if d.Remaining < 0 {
		// Unlimited key, nothing meaningful to report.
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}
