package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// In-memory mock repositories shared by the service tests.

type mockProjectRepository struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
}

func newMockProjectRepository() *mockProjectRepository {
	return &mockProjectRepository{projects: make(map[string]*models.Project)}
}

func (m *mockProjectRepository) Create(ctx context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = ulid.Make().String()
	}
	m.projects[p.ID] = p
	return nil
}

func (m *mockProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projects[id], nil
}

func (m *mockProjectRepository) GetByName(ctx context.Context, name string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockProjectRepository) List(ctx context.Context, limit, offset int) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.Project
	for _, p := range m.projects {
		result = append(result, p)
	}
	return result, nil
}

func (m *mockProjectRepository) Update(ctx context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *mockProjectRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

type mockAPIKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]*models.APIKey
}

func newMockAPIKeyRepository() *mockAPIKeyRepository {
	return &mockAPIKeyRepository{keys: make(map[string]*models.APIKey)}
}

func (m *mockAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = ulid.Make().String()
	}
	key.CreatedAt = time.Now().UTC()
	m.keys[key.ID] = key
	return nil
}

func (m *mockAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[id], nil
}

func (m *mockAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, nil
}

func (m *mockAPIKeyRepository) GetByProjectID(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.APIKey
	for _, k := range m.keys {
		if k.ProjectID == projectID {
			result = append(result, k)
		}
	}
	return result, nil
}

func (m *mockAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		k.LastUsedAt = &lastUsed
	}
	return nil
}

func (m *mockAPIKeyRepository) Update(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m *mockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok && k.RevokedAt == nil {
		now := time.Now().UTC()
		k.RevokedAt = &now
		k.IsActive = false
	}
	return nil
}

func (m *mockAPIKeyRepository) GetExpiringSoon(ctx context.Context, within time.Duration) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	horizon := time.Now().UTC().Add(within)
	var result []*models.APIKey
	for _, k := range m.keys {
		if k.IsActive && k.ExpiresAt != nil && k.ExpiresAt.Before(horizon) {
			result = append(result, k)
		}
	}
	return result, nil
}

type mockLimitSettingsRepository struct {
	mu   sync.RWMutex
	rows map[string]*models.LimitSettings // "scope/project/key" -> row
}

func newMockLimitSettingsRepository() *mockLimitSettingsRepository {
	return &mockLimitSettingsRepository{rows: make(map[string]*models.LimitSettings)}
}

func settingsKey(scope models.ConfigScope, projectID, keyID string) string {
	return string(scope) + "/" + projectID + "/" + keyID
}

func (m *mockLimitSettingsRepository) Upsert(ctx context.Context, s *models.LimitSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[settingsKey(s.Scope, s.ProjectID, s.KeyID)] = s
	return nil
}

func (m *mockLimitSettingsRepository) GetGlobal(ctx context.Context) (*models.LimitSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows[settingsKey(models.ScopeGlobal, "", "")], nil
}

func (m *mockLimitSettingsRepository) GetByProjectID(ctx context.Context, projectID string) (*models.LimitSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows[settingsKey(models.ScopeProject, projectID, "")], nil
}

func (m *mockLimitSettingsRepository) GetByKeyID(ctx context.Context, keyID string) (*models.LimitSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.Scope == models.ScopeKey && row.KeyID == keyID {
			return row, nil
		}
	}
	return nil, nil
}

func (m *mockLimitSettingsRepository) Delete(ctx context.Context, scope models.ConfigScope, projectID, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, settingsKey(scope, projectID, keyID))
	return nil
}

// mockUsageRepository scripts CheckAndConsume outcomes and records the
// charges it was handed.
type mockUsageRepository struct {
	mu          sync.Mutex
	result      *repository.ConsumeResult
	err         error
	lastCharges []repository.WindowCharge
	lastCost    int64
	recorded    []string
	metrics     []*models.UsageMetric
	counters    map[string]*models.UsageCounter // keyID/window
	cleaned     int64
	cleanCutoff time.Time
}

func newMockUsageRepository() *mockUsageRepository {
	return &mockUsageRepository{}
}

func (m *mockUsageRepository) CheckAndConsume(ctx context.Context, keyID string, cost int64, charges []repository.WindowCharge, warnPercent int) (*repository.ConsumeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCharges = charges
	m.lastCost = cost
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}

	// Default: allow, echoing the charges back as usage.
	result := &repository.ConsumeResult{Allowed: true}
	for _, c := range charges {
		result.Usage = append(result.Usage, repository.WindowUsage{
			Window: c.Window, Start: c.Start, End: c.End, Limit: c.Limit, Count: cost,
		})
	}
	return result, nil
}

func (m *mockUsageRepository) GetCounter(ctx context.Context, keyID string, window models.WindowKind, start time.Time) (*models.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[keyID+"/"+string(window)], nil
}

func (m *mockUsageRepository) RecordRequest(ctx context.Context, keyID string, at time.Time, success bool, responseTimeMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, keyID)
	return nil
}

func (m *mockUsageRepository) GetMetrics(ctx context.Context, keyID string, since time.Time) ([]*models.UsageMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics, nil
}

func (m *mockUsageRepository) CleanupClosedWindows(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanCutoff = before
	return m.cleaned, nil
}

type mockAlertRuleRepository struct {
	mu    sync.Mutex
	rules map[string]*models.AlertRule
}

func newMockAlertRuleRepository() *mockAlertRuleRepository {
	return &mockAlertRuleRepository{rules: make(map[string]*models.AlertRule)}
}

func (m *mockAlertRuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = ulid.Make().String()
	}
	m.rules[rule.ID] = rule
	return nil
}

func (m *mockAlertRuleRepository) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[id], nil
}

func (m *mockAlertRuleRepository) GetActiveForKey(ctx context.Context, keyID, projectID string) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.AlertRule
	for _, r := range m.rules {
		if !r.IsActive {
			continue
		}
		if r.KeyID == keyID || (r.KeyID == "" && r.ProjectID == projectID) || (r.KeyID == "" && r.ProjectID == "") {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockAlertRuleRepository) ListByProjectID(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.AlertRule
	for _, r := range m.rules {
		if r.ProjectID == projectID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *mockAlertRuleRepository) Update(ctx context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return nil
}

func (m *mockAlertRuleRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, id)
	return nil
}

func (m *mockAlertRuleRepository) MarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[ruleID]
	if !ok {
		return false, nil
	}
	if rule.LastTriggeredAt != nil && rule.LastTriggeredAt.After(now.Add(-cooldown)) {
		return false, nil
	}
	stamped := now
	rule.LastTriggeredAt = &stamped
	return true, nil
}

type mockAlertHistoryRepository struct {
	mu      sync.Mutex
	entries []*models.AlertHistoryEntry
}

func newMockAlertHistoryRepository() *mockAlertHistoryRepository {
	return &mockAlertHistoryRepository{}
}

func (m *mockAlertHistoryRepository) Create(ctx context.Context, entry *models.AlertHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAlertHistoryRepository) GetByRuleID(ctx context.Context, ruleID string, limit, offset int) ([]*models.AlertHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.AlertHistoryEntry
	for _, e := range m.entries {
		if e.RuleID == ruleID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockAlertHistoryRepository) all() []*models.AlertHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AlertHistoryEntry(nil), m.entries...)
}

type mockWebhookRepository struct {
	mu       sync.RWMutex
	webhooks map[string]*models.Webhook
}

func newMockWebhookRepository() *mockWebhookRepository {
	return &mockWebhookRepository{webhooks: make(map[string]*models.Webhook)}
}

func (m *mockWebhookRepository) Create(ctx context.Context, w *models.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = ulid.Make().String()
	}
	m.webhooks[w.ID] = w
	return nil
}

func (m *mockWebhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.webhooks[id], nil
}

func (m *mockWebhookRepository) GetByProjectID(ctx context.Context, projectID string) ([]*models.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.Webhook
	for _, w := range m.webhooks {
		if w.ProjectID == projectID {
			result = append(result, w)
		}
	}
	return result, nil
}

func (m *mockWebhookRepository) GetActiveByProjectID(ctx context.Context, projectID string) ([]*models.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*models.Webhook
	for _, w := range m.webhooks {
		if w.ProjectID == projectID && w.IsActive {
			result = append(result, w)
		}
	}
	return result, nil
}

func (m *mockWebhookRepository) GetByProjectAndName(ctx context.Context, projectID, name string) (*models.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.webhooks {
		if w.ProjectID == projectID && w.Name == name {
			return w, nil
		}
	}
	return nil, nil
}

func (m *mockWebhookRepository) Update(ctx context.Context, w *models.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[w.ID] = w
	return nil
}

func (m *mockWebhookRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhooks, id)
	return nil
}

type mockDeliveryRepository struct {
	mu         sync.Mutex
	deliveries map[string]*models.WebhookDelivery // "webhookID/eventID"
}

func newMockDeliveryRepository() *mockDeliveryRepository {
	return &mockDeliveryRepository{deliveries: make(map[string]*models.WebhookDelivery)}
}

func (m *mockDeliveryRepository) CreateOrGet(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := d.WebhookID + "/" + d.EventID
	if existing, ok := m.deliveries[key]; ok {
		return existing, false, nil
	}
	if d.ID == "" {
		d.ID = ulid.Make().String()
	}
	d.CreatedAt = time.Now().UTC()
	m.deliveries[key] = d
	return d, true, nil
}

func (m *mockDeliveryRepository) Update(ctx context.Context, d *models.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.WebhookID+"/"+d.EventID] = d
	return nil
}

func (m *mockDeliveryRepository) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (m *mockDeliveryRepository) GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.WebhookDelivery
	for _, d := range m.deliveries {
		if d.WebhookID == webhookID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockDeliveryRepository) GetByEventID(ctx context.Context, eventID string) ([]*models.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.WebhookDelivery
	for _, d := range m.deliveries {
		if d.EventID == eventID {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockDeliveryRepository) GetPendingRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.WebhookDelivery
	for _, d := range m.deliveries {
		if d.Status == models.DeliveryPending && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *mockDeliveryRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}

type mockAuditRepository struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func newMockAuditRepository() *mockAuditRepository {
	return &mockAuditRepository{}
}

func (m *mockAuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) GetByKeyID(ctx context.Context, keyID string, limit, offset int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.AuditEntry
	for _, e := range m.entries {
		if e.KeyID == keyID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockAuditRepository) GetByEventType(ctx context.Context, eventType string, limit, offset int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.AuditEntry
	for _, e := range m.entries {
		if e.EventType == eventType {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockAuditRepository) all() []*models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditEntry(nil), m.entries...)
}

type mockSensitiveFieldRepository struct {
	mu     sync.Mutex
	fields map[string]*models.SensitiveField

	listActiveCalls int
	listActiveErr   error
}

func newMockSensitiveFieldRepository() *mockSensitiveFieldRepository {
	return &mockSensitiveFieldRepository{fields: make(map[string]*models.SensitiveField)}
}

func (m *mockSensitiveFieldRepository) Create(ctx context.Context, field *models.SensitiveField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if field.ID == "" {
		field.ID = ulid.Make().String()
	}
	field.FieldName = strings.ToLower(field.FieldName)
	cp := *field
	m.fields[field.ID] = &cp
	return nil
}

func (m *mockSensitiveFieldRepository) GetByID(ctx context.Context, id string) (*models.SensitiveField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fields[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (m *mockSensitiveFieldRepository) GetByName(ctx context.Context, projectID, fieldName string) (*models.SensitiveField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fields {
		if f.ProjectID == projectID && f.FieldName == strings.ToLower(fieldName) {
			cp := *f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockSensitiveFieldRepository) List(ctx context.Context, projectID string) ([]*models.SensitiveField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.SensitiveField
	for _, f := range m.fields {
		if f.ProjectID == projectID {
			cp := *f
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockSensitiveFieldRepository) ListActive(ctx context.Context) ([]*models.SensitiveField, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listActiveCalls++
	if m.listActiveErr != nil {
		return nil, m.listActiveErr
	}
	var result []*models.SensitiveField
	for _, f := range m.fields {
		if f.IsActive {
			cp := *f
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockSensitiveFieldRepository) Update(ctx context.Context, field *models.SensitiveField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fields[field.ID]; !ok {
		return errors.New("no such field")
	}
	field.FieldName = strings.ToLower(field.FieldName)
	cp := *field
	m.fields[field.ID] = &cp
	return nil
}

func (m *mockSensitiveFieldRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fields, id)
	return nil
}

// mockQueue records enqueued deliveries and cancellations.
type mockQueue struct {
	mu        sync.Mutex
	enqueued  []*models.WebhookDelivery
	cancelled []string
	full      bool
}

func (q *mockQueue) Enqueue(d *models.WebhookDelivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.enqueued = append(q.enqueued, d)
	return true
}

func (q *mockQueue) CancelDelivery(deliveryID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, deliveryID)
}

func (q *mockQueue) CancelWebhook(webhookID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, webhookID)
}

func (q *mockQueue) enqueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

func newTestRepos() *repository.Repositories {
	return &repository.Repositories{
		Project:         newMockProjectRepository(),
		APIKey:          newMockAPIKeyRepository(),
		LimitSettings:   newMockLimitSettingsRepository(),
		Usage:           newMockUsageRepository(),
		AlertRule:       newMockAlertRuleRepository(),
		AlertHistory:    newMockAlertHistoryRepository(),
		Webhook:         newMockWebhookRepository(),
		WebhookDelivery: newMockDeliveryRepository(),
		Audit:           newMockAuditRepository(),
		SensitiveField:  newMockSensitiveFieldRepository(),
	}
}
