// Package service contains the business logic layer: config resolution,
// quota enforcement, alerting, webhook dispatch and the audit subscriber.
package service

import (
	"fmt"
	"log/slog"

	"github.com/akmhq/akm-api/internal/config"
	"github.com/akmhq/akm-api/internal/crypto"
	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/metrics"
	"github.com/akmhq/akm-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Auth      *AuthService
	Resolver  *ConfigResolver
	Quota     *QuotaService
	Alert     *AlertService
	Webhook   *WebhookService
	Audit     *AuditService
	Sensitive *SensitiveFieldService
	APIKey    *APIKeyService
	Project   *ProjectService
	Limits    *LimitsService
	Usage     *UsageService
	Cleanup   *CleanupService

	Encryptor *crypto.Encryptor
}

// NewServices creates all service instances wired to the shared bus and
// metrics. The delivery worker pool is attached afterwards with
// Webhook.SetQueue; Start attaches the bus subscribers.
func NewServices(cfg *config.Config, repos *repository.Repositories, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) (*Services, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	authSvc := NewAuthService(repos, logger)
	resolver := NewConfigResolver(cfg, repos, logger)
	quotaSvc := NewQuotaService(resolver, repos, bus, m, logger)
	alertSvc := NewAlertService(repos, bus, m, cfg.AlertCooldownDefault, logger)
	webhookSvc := NewWebhookService(repos.Webhook, repos.WebhookDelivery, encryptor, bus, logger)
	sensitiveSvc := NewSensitiveFieldService(cfg, repos.SensitiveField, logger)
	auditSvc := NewAuditService(repos.Audit, bus, sensitiveSvc, logger)
	apiKeySvc := NewAPIKeyService(repos, bus, logger)
	projectSvc := NewProjectService(repos, bus, logger)
	limitsSvc := NewLimitsService(repos, resolver, logger)
	usageSvc := NewUsageService(repos, logger)
	cleanupSvc := NewCleanupService(repos.Usage, logger)

	return &Services{
		Auth:      authSvc,
		Resolver:  resolver,
		Quota:     quotaSvc,
		Alert:     alertSvc,
		Webhook:   webhookSvc,
		Audit:     auditSvc,
		Sensitive: sensitiveSvc,
		APIKey:    apiKeySvc,
		Project:   projectSvc,
		Limits:    limitsSvc,
		Usage:     usageSvc,
		Cleanup:   cleanupSvc,
		Encryptor: encryptor,
	}, nil
}

// Start attaches the bus subscribers (webhook dispatcher, audit writer).
func (s *Services) Start() {
	s.Audit.Start()
	s.Webhook.Start()
}

// Stop detaches the bus subscribers.
func (s *Services) Stop() {
	s.Webhook.Stop()
	s.Audit.Stop()
}
