package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/akmhq/akm-api/internal/models"
)

// Sentinel errors returned by the service layer.
var (
	// ErrConfigNotFound means the key (or its project) does not exist, so
	// no effective configuration can be resolved.
	ErrConfigNotFound = errors.New("configuration not found")

	ErrKeyNotFound     = errors.New("api key not found")
	ErrKeyRevoked      = errors.New("api key revoked")
	ErrKeyExpired      = errors.New("api key expired")
	ErrProjectNotFound = errors.New("project not found")
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrRuleNotFound    = errors.New("alert rule not found")
	ErrFieldNotFound   = errors.New("sensitive field not found")
)

// RateLimitError reports a denied quota check with enough detail for the
// 429 response headers.
type RateLimitError struct {
	KeyID   string
	Window  models.WindowKind
	Limit   int64
	Used    int64
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d per %s, resets %s",
		e.Used, e.Limit, e.Window, e.ResetAt.Format(time.RFC3339))
}

// RetryAfter returns the seconds until the breached window resets,
// rounded up and never below 1.
func (e *RateLimitError) RetryAfter(now time.Time) int {
	secs := int(e.ResetAt.Sub(now).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// DeliveryError reports a failed webhook POST attempt.
type DeliveryError struct {
	DeliveryID string
	WebhookID  string
	StatusCode int // 0 when the request never completed
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery %s: endpoint returned %d", e.DeliveryID, e.StatusCode)
	}
	return fmt.Sprintf("delivery %s: %v", e.DeliveryID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
