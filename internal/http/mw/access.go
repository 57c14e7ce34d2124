package mw

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/akmhq/akm-api/internal/service"
)

// Access enforces the resolved per-key access restrictions: IP allowlist
// (exact addresses or CIDR blocks), HTTP method allowlist and the daily
// UTC time window. Violations get a 403; resolution failures fail closed
// with a 503. Keys without restrictions pass through untouched.
func Access(resolver *service.ConfigResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetKeyClaims(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			cfg, err := resolver.Resolve(r.Context(), claims.KeyID)
			if err != nil {
				logger.Error("access check failed", "key_id", claims.KeyID, "error", err)
				writeError(w, http.StatusServiceUnavailable, "access check unavailable")
				return
			}

			if len(cfg.AllowedIPs) > 0 {
				ip := clientIP(r)
				if !ipAllowed(ip, cfg.AllowedIPs) {
					logger.Warn("request from address outside allowlist",
						"key_id", claims.KeyID, "ip", ip)
					writeError(w, http.StatusForbidden, "ip address not allowed for this key")
					return
				}
			}

			if len(cfg.AllowedMethods) > 0 && !methodAllowed(r.Method, cfg.AllowedMethods) {
				writeError(w, http.StatusForbidden, "method not allowed for this key")
				return
			}

			if cfg.AllowedTimeStart != "" && cfg.AllowedTimeEnd != "" &&
				!timeAllowed(time.Now().UTC(), cfg.AllowedTimeStart, cfg.AllowedTimeEnd) {
				writeError(w, http.StatusForbidden,
					"outside allowed time window "+cfg.AllowedTimeStart+"-"+cfg.AllowedTimeEnd)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request address without the port. RealIP runs
// earlier in the chain, so RemoteAddr already reflects forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipAllowed matches the client address against allowlist entries. Entries
// containing a slash are CIDR blocks, anything else an exact address.
// Unparseable entries never match.
func ipAllowed(clientIP string, allowed []string) bool {
	addr := net.ParseIP(clientIP)
	if addr == nil {
		return false
	}
	for _, entry := range allowed {
		if strings.Contains(entry, "/") {
			if _, network, err := net.ParseCIDR(entry); err == nil && network.Contains(addr) {
				return true
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil && ip.Equal(addr) {
			return true
		}
	}
	return false
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// timeAllowed reports whether the clock time of now falls inside the
// HH:MM window. A window whose end precedes its start wraps midnight.
// Windows that fail to parse are not enforced.
func timeAllowed(now time.Time, start, end string) bool {
	startMin, okStart := parseClock(start)
	endMin, okEnd := parseClock(end)
	if !okStart || !okEnd {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return startMin <= cur && cur <= endMin
	}
	return cur >= startMin || cur <= endMin
}

func parseClock(value string) (int, bool) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
