// Package models defines the domain models for the application.
// Entities reference each other by opaque ULID ids resolved through
// repositories; there are no embedded back-pointers between layers.
package models

import (
	"time"
)

// Project represents a client project that owns API keys.
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"` // Key prefix namespace, e.g. "akm"
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// APIKey represents an issued credential for programmatic access.
type APIKey struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"` // First 12 chars for display
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// ConfigScope identifies the layer a settings row belongs to.
type ConfigScope string

const (
	ScopeGlobal  ConfigScope = "global"
	ScopeProject ConfigScope = "project"
	ScopeKey     ConfigScope = "key"
)

// LimitSettings holds one layer of configurable limits. A nil field means
// "not set at this layer" and resolution falls through to the next layer.
type LimitSettings struct {
	ID        string      `json:"id"`
	Scope     ConfigScope `json:"scope"`
	ProjectID string      `json:"project_id,omitempty"` // set for project and key scope
	KeyID     string      `json:"key_id,omitempty"`     // set for key scope only
	PerMinute *int64      `json:"per_minute,omitempty"`
	PerHour   *int64      `json:"per_hour,omitempty"`
	PerDay    *int64      `json:"per_day,omitempty"`
	PerMonth  *int64      `json:"per_month,omitempty"`
	// WarnPercent is the usage ratio (0-100) at which a warning event fires.
	WarnPercent    *int     `json:"warn_percent,omitempty"`
	AllowedIPs     []string `json:"allowed_ips,omitempty"`
	AllowedMethods []string `json:"allowed_methods,omitempty"`
	// Daily access window in "HH:MM" 24h form; both empty means unrestricted.
	AllowedTimeStart *string   `json:"allowed_time_start,omitempty"`
	AllowedTimeEnd   *string   `json:"allowed_time_end,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Limit returns the layer's limit for a window kind, or nil if unset.
func (s *LimitSettings) Limit(w WindowKind) *int64 {
	switch w {
	case WindowMinute:
		return s.PerMinute
	case WindowHour:
		return s.PerHour
	case WindowDay:
		return s.PerDay
	case WindowMonth:
		return s.PerMonth
	}
	return nil
}

// DefaultWarnPercent is the usage ratio at which rate_limit.warning fires
// when no layer overrides it.
const DefaultWarnPercent = 80

// EffectiveConfig is the fully merged configuration for one key after
// applying key > project > global precedence per field. Every field is
// populated; a window absent from Limits is not enforced.
type EffectiveConfig struct {
	KeyID            string
	ProjectID        string
	Limits           map[WindowKind]int64
	WarnPercent      int
	AllowedIPs       []string
	AllowedMethods   []string
	AllowedTimeStart string
	AllowedTimeEnd   string
}

// LimitFor returns the enforced limit for a window and whether one exists.
func (c *EffectiveConfig) LimitFor(w WindowKind) (int64, bool) {
	limit, ok := c.Limits[w]
	return limit, ok
}

// UsageCounter tracks request counts for one key in one window slot.
// Rows are created lazily on first use and become immutable history once
// the window closes.
type UsageCounter struct {
	KeyID       string     `json:"key_id"`
	Window      WindowKind `json:"window"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	Count       int64      `json:"count"`
	// Warned is set the first time usage crosses the warning threshold
	// within this window instance. It never resets within the instance.
	Warned    bool      `json:"warned"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageMetric is an hourly usage rollup per key, recorded after each
// request completes.
type UsageMetric struct {
	KeyID              string    `json:"key_id"`
	Date               string    `json:"date"` // YYYY-MM-DD (UTC)
	Hour               int       `json:"hour"` // 0-23
	RequestCount       int64     `json:"request_count"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	AvgResponseTimeMs  int64     `json:"avg_response_time_ms"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AlertRule triggers notifications when a metric crosses a threshold.
type AlertRule struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Name      string `json:"name"`
	Metric    string `json:"metric"`   // e.g. "daily_usage", "error_rate"
	Operator  string `json:"operator"` // >, >=, <, <=, =
	Threshold int64  `json:"threshold"`
	// ThresholdPercent, when set, derives the effective threshold from a
	// base value supplied at evaluation time (e.g. 80% of the daily limit).
	ThresholdPercent *int          `json:"threshold_percent,omitempty"`
	Cooldown         time.Duration `json:"cooldown"`
	LastTriggeredAt  *time.Time    `json:"last_triggered_at,omitempty"`
	IsActive         bool          `json:"is_active"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// AlertOutcome is the recorded result of one rule evaluation whose
// condition held.
type AlertOutcome string

const (
	AlertTriggered  AlertOutcome = "triggered"
	AlertSuppressed AlertOutcome = "suppressed" // condition held but cooldown active
)

// AlertHistoryEntry records a rule firing or a cooldown suppression.
type AlertHistoryEntry struct {
	ID          string       `json:"id"`
	RuleID      string       `json:"rule_id"`
	KeyID       string       `json:"key_id,omitempty"`
	Outcome     AlertOutcome `json:"outcome"`
	MetricValue int64        `json:"metric_value"`
	Threshold   int64        `json:"threshold"`
	Message     string       `json:"message,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Webhook represents a subscriber-configured delivery endpoint. A webhook
// scoped to a key receives only that key's events; one scoped to a project
// (empty KeyID) receives events for all keys in the project.
type Webhook struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	KeyID           string    `json:"key_id,omitempty"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	SecretEncrypted string    `json:"-"`
	Events          []string  `json:"events"` // subscribed event types, ["*"] for all
	Headers         []Header  `json:"headers,omitempty"`
	TimeoutSeconds  int       `json:"timeout_seconds"`
	MaxRetries      int       `json:"max_retries"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Header is a custom HTTP header attached to webhook requests.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// DeliveryStatus represents the lifecycle of a webhook delivery record.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is the bookkeeping record for delivering one event to
// one webhook. There is exactly one record per (webhook_id, event_id);
// retries mutate the record, they never create a new one.
type WebhookDelivery struct {
	ID               string         `json:"id"`
	WebhookID        string         `json:"webhook_id"`
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	URL              string         `json:"url"`
	PayloadJSON      string         `json:"payload_json"`
	Status           DeliveryStatus `json:"status"`
	AttemptCount     int            `json:"attempt_count"`
	MaxRetries       int            `json:"max_retries"`
	LastAttemptAt    *time.Time     `json:"last_attempt_at,omitempty"`
	LastResponseCode *int           `json:"last_response_code,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
}

// AuditEntry is an immutable copy of a published event, written by the
// audit subscriber for observability.
type AuditEntry struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	KeyID         string    `json:"key_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	DataJSON      string    `json:"data_json,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Masking strategies for sensitive fields.
const (
	StrategyRedact = "redact"
	StrategyMask   = "mask"
)

// SensitiveField configures masking of one field name in audit payloads.
// ProjectID is empty for service-wide entries; a project entry with the
// same name overrides the service-wide one. FieldName is stored
// lowercased and matches payload keys by substring.
type SensitiveField struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id,omitempty"`
	FieldName     string    `json:"field_name"`
	Strategy      string    `json:"strategy,omitempty"` // redact or mask; empty inherits the service default
	MaskShowStart *int      `json:"mask_show_start,omitempty"`
	MaskShowEnd   *int      `json:"mask_show_end,omitempty"`
	MaskChar      string    `json:"mask_char,omitempty"`
	Replacement   string    `json:"replacement,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Event types published through the bus.
const (
	EventRateLimitWarning  = "rate_limit.warning"
	EventRateLimitExceeded = "rate_limit.exceeded"
	EventAlertTriggered    = "alert.triggered"
	EventDeliveryFailed    = "webhook.delivery.failed"
	EventKeyCreated        = "key.created"
	EventKeyRevoked        = "key.revoked"
	EventKeyExpiring       = "key.expiring"
	EventProjectCreated    = "project.created"
)

// Event is an immutable notification published to the bus. EventID is
// producer-generated and identifies the event across redeliveries.
type Event struct {
	ID            string         `json:"event_id"`
	Type          string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	KeyID         string         `json:"api_key_id,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	// OriginWebhookID marks events produced by a delivery failure so the
	// dispatcher never routes them back to the webhook that failed.
	OriginWebhookID string `json:"-"`
}
