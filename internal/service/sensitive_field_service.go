package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akmhq/akm-api/internal/config"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// maxSanitizeDepth bounds recursion into nested payload values.
const maxSanitizeDepth = 5

// depthExceededValue replaces subtrees deeper than maxSanitizeDepth.
const depthExceededValue = "[MAX_DEPTH_REACHED]"

// SensitiveFieldService manages the masking configuration for audit
// payloads and applies it. Active entries are cached with a short TTL;
// configuration writes invalidate eagerly. A payload key matches an
// entry when it equals the field name or contains it as a substring,
// compared lowercased.
type SensitiveFieldService struct {
	repo   repository.SensitiveFieldRepository
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.RWMutex
	cache    map[string]map[string]*models.SensitiveField // project -> field name; "" is service-wide
	cachedAt time.Time
	ttl      time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewSensitiveFieldService creates a sensitive field service.
func NewSensitiveFieldService(cfg *config.Config, repo repository.SensitiveFieldRepository, logger *slog.Logger) *SensitiveFieldService {
	return &SensitiveFieldService{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("component", "sensitive-fields"),
		ttl:    cfg.MaskCacheTTL,
		now:    time.Now,
	}
}

// CreateField registers a field name for masking. projectID "" creates a
// service-wide entry.
func (s *SensitiveFieldService) CreateField(ctx context.Context, field *models.SensitiveField) error {
	if err := validateField(field); err != nil {
		return err
	}

	existing, err := s.repo.GetByName(ctx, field.ProjectID, field.FieldName)
	if err != nil {
		return fmt.Errorf("checking field name: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("field %q is already configured in this scope", strings.ToLower(field.FieldName))
	}

	if err := s.repo.Create(ctx, field); err != nil {
		return fmt.Errorf("creating sensitive field: %w", err)
	}

	s.Invalidate()
	s.logger.Info("sensitive field created",
		"field_id", field.ID,
		"field_name", field.FieldName,
		"project_id", field.ProjectID)
	return nil
}

// GetField returns one entry visible to the project: its own entries and
// the service-wide ones. Returns ErrFieldNotFound otherwise.
func (s *SensitiveFieldService) GetField(ctx context.Context, projectID, id string) (*models.SensitiveField, error) {
	field, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if field == nil || (field.ProjectID != "" && field.ProjectID != projectID) {
		return nil, ErrFieldNotFound
	}
	return field, nil
}

// ListFields returns the project's entries plus the service-wide ones.
func (s *SensitiveFieldService) ListFields(ctx context.Context, projectID string) ([]*models.SensitiveField, error) {
	global, err := s.repo.List(ctx, "")
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return global, nil
	}
	scoped, err := s.repo.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return append(global, scoped...), nil
}

// UpdateField rewrites an entry. The scope (project binding) of an entry
// never changes.
func (s *SensitiveFieldService) UpdateField(ctx context.Context, projectID string, field *models.SensitiveField) error {
	current, err := s.GetField(ctx, projectID, field.ID)
	if err != nil {
		return err
	}
	if err := validateField(field); err != nil {
		return err
	}

	field.ProjectID = current.ProjectID
	field.CreatedAt = current.CreatedAt
	if err := s.repo.Update(ctx, field); err != nil {
		return fmt.Errorf("updating sensitive field: %w", err)
	}

	s.Invalidate()
	return nil
}

// DeleteField removes an entry.
func (s *SensitiveFieldService) DeleteField(ctx context.Context, projectID, id string) error {
	if _, err := s.GetField(ctx, projectID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting sensitive field: %w", err)
	}

	s.Invalidate()
	return nil
}

// Invalidate drops the cached entries so the next Sanitize reloads.
func (s *SensitiveFieldService) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// Sanitize returns a copy of data with sensitive values masked,
// descending into nested maps and slices up to maxSanitizeDepth. When
// the configuration cannot be loaded the payload passes through
// unmasked rather than blocking the audit write.
func (s *SensitiveFieldService) Sanitize(ctx context.Context, projectID string, data map[string]any) map[string]any {
	if len(data) == 0 {
		return data
	}

	fields, err := s.fieldsFor(ctx, projectID)
	if err != nil {
		s.logger.Error("failed to load sensitive fields", "error", err)
		return data
	}
	if len(fields) == 0 {
		return data
	}

	return s.sanitizeMap(data, fields, 0)
}

// fieldsFor merges the service-wide entries with the project's; a
// project entry with the same name wins.
func (s *SensitiveFieldService) fieldsFor(ctx context.Context, projectID string) (map[string]*models.SensitiveField, error) {
	byScope, err := s.activeByScope(ctx)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*models.SensitiveField, len(byScope[""]))
	for name, f := range byScope[""] {
		merged[name] = f
	}
	for name, f := range byScope[projectID] {
		merged[name] = f
	}
	return merged, nil
}

func (s *SensitiveFieldService) activeByScope(ctx context.Context) (map[string]map[string]*models.SensitiveField, error) {
	s.mu.RLock()
	cached := s.cache
	fresh := s.now().Sub(s.cachedAt) < s.ttl
	s.mu.RUnlock()

	if cached != nil && fresh {
		return cached, nil
	}

	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	byScope := make(map[string]map[string]*models.SensitiveField)
	for _, f := range active {
		scope := byScope[f.ProjectID]
		if scope == nil {
			scope = make(map[string]*models.SensitiveField)
			byScope[f.ProjectID] = scope
		}
		scope[f.FieldName] = f
	}

	s.mu.Lock()
	s.cache = byScope
	s.cachedAt = s.now()
	s.mu.Unlock()

	return byScope, nil
}

func (s *SensitiveFieldService) sanitizeMap(data map[string]any, fields map[string]*models.SensitiveField, depth int) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		if field := matchField(key, fields); field != nil {
			out[key] = s.maskValue(value, field)
			continue
		}
		out[key] = s.sanitizeValue(value, fields, depth)
	}
	return out
}

func (s *SensitiveFieldService) sanitizeValue(value any, fields map[string]*models.SensitiveField, depth int) any {
	switch v := value.(type) {
	case map[string]any:
		if depth+1 >= maxSanitizeDepth {
			return depthExceededValue
		}
		return s.sanitizeMap(v, fields, depth+1)
	case []any:
		if depth+1 >= maxSanitizeDepth {
			return depthExceededValue
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.sanitizeValue(item, fields, depth+1)
		}
		return out
	default:
		return value
	}
}

// matchField returns the entry covering a payload key: an exact name
// match, or any configured name contained in the key.
func matchField(key string, fields map[string]*models.SensitiveField) *models.SensitiveField {
	lower := strings.ToLower(key)
	if f, ok := fields[lower]; ok {
		return f
	}
	for name, f := range fields {
		if strings.Contains(lower, name) {
			return f
		}
	}
	return nil
}

func (s *SensitiveFieldService) maskValue(value any, field *models.SensitiveField) string {
	strategy := field.Strategy
	if strategy == "" {
		strategy = s.cfg.MaskStrategy
	}

	switch strategy {
	case models.StrategyMask:
		return s.maskString(fmt.Sprintf("%v", value), field)
	case models.StrategyRedact:
		return s.replacement(field)
	default:
		return s.replacement(field)
	}
}

// maskString keeps the head and tail of the value visible and fills the
// middle with the mask character. Values too short to keep anything
// hidden are redacted instead.
func (s *SensitiveFieldService) maskString(value string, field *models.SensitiveField) string {
	showStart := s.cfg.MaskShowStart
	if field.MaskShowStart != nil {
		showStart = *field.MaskShowStart
	}
	showEnd := s.cfg.MaskShowEnd
	if field.MaskShowEnd != nil {
		showEnd = *field.MaskShowEnd
	}
	maskChar := field.MaskChar
	if maskChar == "" {
		maskChar = s.cfg.MaskChar
	}

	runes := []rune(value)
	if showStart < 0 {
		showStart = 0
	}
	if showEnd < 0 {
		showEnd = 0
	}
	if len(runes) <= showStart+showEnd {
		return s.replacement(field)
	}

	return string(runes[:showStart]) +
		strings.Repeat(maskChar, len(runes)-showStart-showEnd) +
		string(runes[len(runes)-showEnd:])
}

func (s *SensitiveFieldService) replacement(field *models.SensitiveField) string {
	if field.Replacement != "" {
		return field.Replacement
	}
	if s.cfg.MaskReplacement != "" {
		return s.cfg.MaskReplacement
	}
	return "[REDACTED]"
}

func validateField(field *models.SensitiveField) error {
	if strings.TrimSpace(field.FieldName) == "" {
		return fmt.Errorf("field name is required")
	}
	switch field.Strategy {
	case "", models.StrategyRedact, models.StrategyMask:
		return nil
	default:
		return fmt.Errorf("strategy must be %q or %q", models.StrategyRedact, models.StrategyMask)
	}
}
