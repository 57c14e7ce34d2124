// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/akmhq/akm-api/internal/models"
)

// ProjectRepository defines methods for project data access.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
	List(ctx context.Context, limit, offset int) ([]*models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, id string) error
}

// APIKeyRepository defines methods for API key data access.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error)
	GetByProjectID(ctx context.Context, projectID string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error
	Update(ctx context.Context, key *models.APIKey) error
	Revoke(ctx context.Context, id string) error
	// GetExpiringSoon returns active keys whose expiry falls within the
	// given horizon, for key.expiring notifications.
	GetExpiringSoon(ctx context.Context, within time.Duration) ([]*models.APIKey, error)
}

// LimitSettingsRepository defines methods for the layered limit config.
// At most one row exists per scope target; Upsert replaces the whole row.
type LimitSettingsRepository interface {
	Upsert(ctx context.Context, settings *models.LimitSettings) error
	GetGlobal(ctx context.Context) (*models.LimitSettings, error)
	GetByProjectID(ctx context.Context, projectID string) (*models.LimitSettings, error)
	GetByKeyID(ctx context.Context, keyID string) (*models.LimitSettings, error)
	Delete(ctx context.Context, scope models.ConfigScope, projectID, keyID string) error
}

// WindowCharge describes one window a request must be charged against.
type WindowCharge struct {
	Window models.WindowKind
	Start  time.Time
	End    time.Time
	Limit  int64
}

// WindowUsage reports post-consume state for one charged window.
type WindowUsage struct {
	Window models.WindowKind
	Start  time.Time
	End    time.Time
	Limit  int64
	Count  int64
	// CrossedWarn is true when this consume moved the window across the
	// warning threshold for the first time in the window instance.
	CrossedWarn bool
}

// ConsumeResult is the outcome of an atomic multi-window consume.
type ConsumeResult struct {
	Allowed bool
	// Breached is set when Allowed is false: the first window (tightest
	// first) whose ceiling the request would overshoot.
	Breached *WindowUsage
	Usage    []WindowUsage
}

// UsageRepository defines methods for usage counters and metric rollups.
type UsageRepository interface {
	// CheckAndConsume atomically charges cost against every window in one
	// transaction. Either all windows are charged or none are. warnPercent
	// governs the once-per-window warning flag.
	CheckAndConsume(ctx context.Context, keyID string, cost int64, charges []WindowCharge, warnPercent int) (*ConsumeResult, error)
	GetCounter(ctx context.Context, keyID string, window models.WindowKind, start time.Time) (*models.UsageCounter, error)
	// RecordRequest folds one completed request into the hourly rollup.
	RecordRequest(ctx context.Context, keyID string, at time.Time, success bool, responseTimeMs int64) error
	// GetMetrics returns hourly rollups for a key, newest first.
	GetMetrics(ctx context.Context, keyID string, since time.Time) ([]*models.UsageMetric, error)
	// CleanupClosedWindows deletes counter rows whose window closed before
	// the cutoff and returns the number of rows removed.
	CleanupClosedWindows(ctx context.Context, before time.Time) (int64, error)
}

// AlertRuleRepository defines methods for alert rule data access.
type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	// GetActiveForKey returns active rules bound to the key, its project,
	// or neither (service-wide rules).
	GetActiveForKey(ctx context.Context, keyID, projectID string) ([]*models.AlertRule, error)
	ListByProjectID(ctx context.Context, projectID string) ([]*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	// MarkTriggered conditionally stamps last_triggered_at if the cooldown
	// has elapsed. Returns false when another evaluation won the race or
	// the cooldown is still active.
	MarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error)
}

// AlertHistoryRepository defines methods for alert evaluation history.
type AlertHistoryRepository interface {
	Create(ctx context.Context, entry *models.AlertHistoryEntry) error
	GetByRuleID(ctx context.Context, ruleID string, limit, offset int) ([]*models.AlertHistoryEntry, error)
}

// WebhookRepository defines methods for webhook data access.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	GetByProjectID(ctx context.Context, projectID string) ([]*models.Webhook, error)
	GetActiveByProjectID(ctx context.Context, projectID string) ([]*models.Webhook, error)
	GetByProjectAndName(ctx context.Context, projectID, name string) (*models.Webhook, error)
	Update(ctx context.Context, webhook *models.Webhook) error
	Delete(ctx context.Context, id string) error
}

// WebhookDeliveryRepository defines methods for webhook delivery tracking.
// There is one record per (webhook_id, event_id); retries mutate it.
type WebhookDeliveryRepository interface {
	// CreateOrGet inserts a new pending delivery, or returns the existing
	// record when the (webhook_id, event_id) pair was already dispatched.
	// The bool reports whether a new record was created.
	CreateOrGet(ctx context.Context, delivery *models.WebhookDelivery) (*models.WebhookDelivery, bool, error)
	Update(ctx context.Context, delivery *models.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error)
	GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error)
	GetByEventID(ctx context.Context, eventID string) ([]*models.WebhookDelivery, error)
	// GetPendingRetries returns pending deliveries whose next_retry_at has
	// passed, oldest first. Used by the startup sweep.
	GetPendingRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error)
}

// AuditRepository defines methods for the append-only event audit log.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	GetByKeyID(ctx context.Context, keyID string, limit, offset int) ([]*models.AuditEntry, error)
	GetByEventType(ctx context.Context, eventType string, limit, offset int) ([]*models.AuditEntry, error)
}

// SensitiveFieldRepository defines methods for audit payload masking
// configuration. projectID "" addresses the service-wide entries.
type SensitiveFieldRepository interface {
	Create(ctx context.Context, field *models.SensitiveField) error
	GetByID(ctx context.Context, id string) (*models.SensitiveField, error)
	GetByName(ctx context.Context, projectID, fieldName string) (*models.SensitiveField, error)
	List(ctx context.Context, projectID string) ([]*models.SensitiveField, error)
	// ListActive returns every active entry across all scopes, for the
	// sanitizer cache.
	ListActive(ctx context.Context) ([]*models.SensitiveField, error)
	Update(ctx context.Context, field *models.SensitiveField) error
	Delete(ctx context.Context, id string) error
}

// Repositories holds all repository instances.
type Repositories struct {
	Project         ProjectRepository
	APIKey          APIKeyRepository
	LimitSettings   LimitSettingsRepository
	Usage           UsageRepository
	AlertRule       AlertRuleRepository
	AlertHistory    AlertHistoryRepository
	Webhook         WebhookRepository
	WebhookDelivery WebhookDeliveryRepository
	Audit           AuditRepository
	SensitiveField  SensitiveFieldRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Project:         NewSQLiteProjectRepository(db),
		APIKey:          NewSQLiteAPIKeyRepository(db),
		LimitSettings:   NewSQLiteLimitSettingsRepository(db),
		Usage:           NewSQLiteUsageRepository(db),
		AlertRule:       NewSQLiteAlertRuleRepository(db),
		AlertHistory:    NewSQLiteAlertHistoryRepository(db),
		Webhook:         NewSQLiteWebhookRepository(db),
		WebhookDelivery: NewSQLiteWebhookDeliveryRepository(db),
		Audit:           NewSQLiteAuditRepository(db),
		SensitiveField:  NewSQLiteSensitiveFieldRepository(db),
	}
}
