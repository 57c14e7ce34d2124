// Package routes wires handlers onto the huma API surface.
package routes

import (
	"database/sql"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/http/handlers"
	"github.com/akmhq/akm-api/internal/http/mw"
	"github.com/akmhq/akm-api/internal/service"
)

// Handlers bundles the handler instances the route table needs.
type Handlers struct {
	APIKey    *handlers.APIKeyHandler
	Project   *handlers.ProjectHandler
	Limits    *handlers.LimitsHandler
	Alert     *handlers.AlertHandler
	Webhook   *handlers.WebhookHandler
	Audit     *handlers.AuditHandler
	Sensitive *handlers.SensitiveFieldHandler
}

// NewHandlers builds the handler set from the service bundle.
func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{
		APIKey:    handlers.NewAPIKeyHandler(services.APIKey, services.Usage, services.Limits),
		Project:   handlers.NewProjectHandler(services.Project),
		Limits:    handlers.NewLimitsHandler(services.Limits),
		Alert:     handlers.NewAlertHandler(services.Alert),
		Webhook:   handlers.NewWebhookHandler(services.Webhook),
		Audit:     handlers.NewAuditHandler(services.Audit, services.APIKey),
		Sensitive: handlers.NewSensitiveFieldHandler(services.Sensitive),
	}
}

// RegisterPublic registers the unauthenticated surface: health plus the
// hidden Kubernetes probes.
func RegisterPublic(api huma.API, db *sql.DB) {
	mw.PublicGet(api, "/api/v1/health", handlers.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", handlers.HealthCheck)
	mw.HiddenGet(api, "/readyz", handlers.NewReadyCheck(db))
}

// RegisterProtected registers every authenticated route with its required
// permission scope.
func RegisterProtected(api huma.API, h *Handlers) {
	// --- API keys ---
	mw.ProtectedGet(api, "/api/v1/keys", h.APIKey.ListKeys,
		mw.WithTags("Keys"),
		mw.WithSummary("List API keys"),
		mw.WithOperationID("listKeys"),
		mw.WithScope("keys:read"))
	mw.ProtectedPost(api, "/api/v1/keys", h.APIKey.CreateKey,
		mw.WithTags("Keys"),
		mw.WithSummary("Create API key"),
		mw.WithDescription("Mints a new key. The plaintext credential appears in this response only."),
		mw.WithOperationID("createKey"),
		mw.WithScope("keys:write"))
	mw.ProtectedGet(api, "/api/v1/keys/{id}", h.APIKey.GetKey,
		mw.WithTags("Keys"),
		mw.WithSummary("Get API key"),
		mw.WithOperationID("getKey"),
		mw.WithScope("keys:read"))
	mw.ProtectedDelete(api, "/api/v1/keys/{id}", h.APIKey.RevokeKey,
		mw.WithTags("Keys"),
		mw.WithSummary("Revoke API key"),
		mw.WithOperationID("revokeKey"),
		mw.WithScope("keys:write"))
	mw.ProtectedGet(api, "/api/v1/keys/{id}/usage", h.APIKey.GetUsage,
		mw.WithTags("Usage"),
		mw.WithSummary("Get usage statistics"),
		mw.WithOperationID("getKeyUsage"),
		mw.WithScope("usage:read"))
	mw.ProtectedGet(api, "/api/v1/keys/{id}/counters", h.APIKey.GetCounters,
		mw.WithTags("Usage"),
		mw.WithSummary("Get live window counters"),
		mw.WithOperationID("getKeyCounters"),
		mw.WithScope("usage:read"))
	mw.ProtectedGet(api, "/api/v1/keys/{id}/limits", h.APIKey.GetEffectiveLimits,
		mw.WithTags("Limits"),
		mw.WithSummary("Get effective limits"),
		mw.WithDescription("Returns the merged key > project > global configuration enforced for the key."),
		mw.WithOperationID("getKeyLimits"),
		mw.WithScope("limits:read"))

	// --- Projects (administrative) ---
	mw.ProtectedGet(api, "/api/v1/projects", h.Project.ListProjects,
		mw.WithTags("Projects"),
		mw.WithSummary("List projects"),
		mw.WithOperationID("listProjects"),
		mw.WithScope("projects:read"))
	mw.ProtectedPost(api, "/api/v1/projects", h.Project.CreateProject,
		mw.WithTags("Projects"),
		mw.WithSummary("Create project"),
		mw.WithOperationID("createProject"),
		mw.WithScope("projects:write"))
	mw.ProtectedGet(api, "/api/v1/projects/{id}", h.Project.GetProject,
		mw.WithTags("Projects"),
		mw.WithSummary("Get project"),
		mw.WithOperationID("getProject"),
		mw.WithScope("projects:read"))
	mw.ProtectedPut(api, "/api/v1/projects/{id}", h.Project.UpdateProject,
		mw.WithTags("Projects"),
		mw.WithSummary("Update project"),
		mw.WithOperationID("updateProject"),
		mw.WithScope("projects:write"))
	mw.ProtectedDelete(api, "/api/v1/projects/{id}", h.Project.DeleteProject,
		mw.WithTags("Projects"),
		mw.WithSummary("Delete project"),
		mw.WithOperationID("deleteProject"),
		mw.WithScope("projects:write"))

	// --- Limit settings ---
	mw.ProtectedGet(api, "/api/v1/limits", h.Limits.GetLimits,
		mw.WithTags("Limits"),
		mw.WithSummary("Get limit settings layer"),
		mw.WithOperationID("getLimits"),
		mw.WithScope("limits:read"))
	mw.ProtectedPut(api, "/api/v1/limits", h.Limits.UpsertLimits,
		mw.WithTags("Limits"),
		mw.WithSummary("Replace limit settings layer"),
		mw.WithOperationID("upsertLimits"),
		mw.WithScope("limits:write"))
	mw.ProtectedDelete(api, "/api/v1/limits", h.Limits.DeleteLimits,
		mw.WithTags("Limits"),
		mw.WithSummary("Delete limit settings layer"),
		mw.WithOperationID("deleteLimits"),
		mw.WithScope("limits:write"))

	// --- Alert rules ---
	mw.ProtectedGet(api, "/api/v1/alerts", h.Alert.ListRules,
		mw.WithTags("Alerts"),
		mw.WithSummary("List alert rules"),
		mw.WithOperationID("listAlerts"),
		mw.WithScope("alerts:read"))
	mw.ProtectedPost(api, "/api/v1/alerts", h.Alert.CreateRule,
		mw.WithTags("Alerts"),
		mw.WithSummary("Create alert rule"),
		mw.WithOperationID("createAlert"),
		mw.WithScope("alerts:write"))
	mw.ProtectedGet(api, "/api/v1/alerts/{id}", h.Alert.GetRule,
		mw.WithTags("Alerts"),
		mw.WithSummary("Get alert rule"),
		mw.WithOperationID("getAlert"),
		mw.WithScope("alerts:read"))
	mw.ProtectedPut(api, "/api/v1/alerts/{id}", h.Alert.UpdateRule,
		mw.WithTags("Alerts"),
		mw.WithSummary("Update alert rule"),
		mw.WithOperationID("updateAlert"),
		mw.WithScope("alerts:write"))
	mw.ProtectedDelete(api, "/api/v1/alerts/{id}", h.Alert.DeleteRule,
		mw.WithTags("Alerts"),
		mw.WithSummary("Delete alert rule"),
		mw.WithOperationID("deleteAlert"),
		mw.WithScope("alerts:write"))
	mw.ProtectedGet(api, "/api/v1/alerts/{id}/history", h.Alert.History,
		mw.WithTags("Alerts"),
		mw.WithSummary("Get alert evaluation history"),
		mw.WithOperationID("getAlertHistory"),
		mw.WithScope("alerts:read"))

	// --- Webhooks ---
	mw.ProtectedGet(api, "/api/v1/webhooks", h.Webhook.ListWebhooks,
		mw.WithTags("Webhooks"),
		mw.WithSummary("List webhooks"),
		mw.WithOperationID("listWebhooks"),
		mw.WithScope("webhooks:read"))
	mw.ProtectedPost(api, "/api/v1/webhooks", h.Webhook.CreateWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Create webhook"),
		mw.WithDescription("Registers an endpoint. The HMAC signing secret appears in this response only."),
		mw.WithOperationID("createWebhook"),
		mw.WithScope("webhooks:write"))
	mw.ProtectedGet(api, "/api/v1/webhooks/{id}", h.Webhook.GetWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Get webhook"),
		mw.WithOperationID("getWebhook"),
		mw.WithScope("webhooks:read"))
	mw.ProtectedPut(api, "/api/v1/webhooks/{id}", h.Webhook.UpdateWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Update webhook"),
		mw.WithOperationID("updateWebhook"),
		mw.WithScope("webhooks:write"))
	mw.ProtectedDelete(api, "/api/v1/webhooks/{id}", h.Webhook.DeleteWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Delete webhook"),
		mw.WithOperationID("deleteWebhook"),
		mw.WithScope("webhooks:write"))
	mw.ProtectedGet(api, "/api/v1/webhooks/{id}/deliveries", h.Webhook.ListDeliveries,
		mw.WithTags("Webhooks"),
		mw.WithSummary("List webhook deliveries"),
		mw.WithOperationID("listDeliveries"),
		mw.WithScope("webhooks:read"))
	mw.ProtectedPost(api, "/api/v1/webhooks/{id}/deliveries/{delivery_id}/retry", h.Webhook.RetryDelivery,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Retry delivery"),
		mw.WithDescription("Re-enqueues a failed or stuck delivery. The attempt appends to the existing record."),
		mw.WithOperationID("retryDelivery"),
		mw.WithScope("webhooks:write"))

	// --- Sensitive fields (audit masking) ---
	mw.ProtectedGet(api, "/api/v1/sensitive-fields", h.Sensitive.ListFields,
		mw.WithTags("Sensitive Fields"),
		mw.WithSummary("List sensitive fields"),
		mw.WithOperationID("listSensitiveFields"),
		mw.WithScope("sensitive-fields:read"))
	mw.ProtectedPost(api, "/api/v1/sensitive-fields", h.Sensitive.CreateField,
		mw.WithTags("Sensitive Fields"),
		mw.WithSummary("Create sensitive field"),
		mw.WithDescription("Registers a payload key to mask in audit log entries."),
		mw.WithOperationID("createSensitiveField"),
		mw.WithScope("sensitive-fields:write"))
	mw.ProtectedGet(api, "/api/v1/sensitive-fields/{id}", h.Sensitive.GetField,
		mw.WithTags("Sensitive Fields"),
		mw.WithSummary("Get sensitive field"),
		mw.WithOperationID("getSensitiveField"),
		mw.WithScope("sensitive-fields:read"))
	mw.ProtectedPut(api, "/api/v1/sensitive-fields/{id}", h.Sensitive.UpdateField,
		mw.WithTags("Sensitive Fields"),
		mw.WithSummary("Update sensitive field"),
		mw.WithOperationID("updateSensitiveField"),
		mw.WithScope("sensitive-fields:write"))
	mw.ProtectedDelete(api, "/api/v1/sensitive-fields/{id}", h.Sensitive.DeleteField,
		mw.WithTags("Sensitive Fields"),
		mw.WithSummary("Delete sensitive field"),
		mw.WithOperationID("deleteSensitiveField"),
		mw.WithScope("sensitive-fields:write"))

	// --- Audit log ---
	mw.ProtectedGet(api, "/api/v1/audit", h.Audit.ListAudit,
		mw.WithTags("Audit"),
		mw.WithSummary("Query the event audit log"),
		mw.WithOperationID("listAudit"),
		mw.WithScope("audit:read"))
}
