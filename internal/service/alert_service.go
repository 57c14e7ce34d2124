package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/metrics"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// AlertService evaluates alert rules against metric values. Firing is
// gated by an atomic cooldown stamp so two concurrent evaluations of the
// same rule can never both fire within the cooldown.
type AlertService struct {
	repos           *repository.Repositories
	bus             *events.Bus
	metrics         *metrics.Metrics
	defaultCooldown time.Duration
	logger          *slog.Logger

	now func() time.Time
}

// NewAlertService creates an alert service.
func NewAlertService(repos *repository.Repositories, bus *events.Bus, m *metrics.Metrics, defaultCooldown time.Duration, logger *slog.Logger) *AlertService {
	return &AlertService{
		repos:           repos,
		bus:             bus,
		metrics:         m,
		defaultCooldown: defaultCooldown,
		logger:          logger.With("component", "alerts"),
		now:             time.Now,
	}
}

// EvaluateForKey runs every active rule bound to the key, its project or
// the whole service against the given metric value. base feeds
// percentage thresholds (e.g. the daily limit when metric is daily
// usage); pass 0 when no base applies.
func (s *AlertService) EvaluateForKey(ctx context.Context, keyID, projectID, metric string, value, base int64) {
	rules, err := s.repos.AlertRule.GetActiveForKey(ctx, keyID, projectID)
	if err != nil {
		s.logger.Error("failed to load alert rules", "key_id", keyID, "error", err)
		return
	}

	for _, rule := range rules {
		if rule.Metric != metric {
			continue
		}
		if _, err := s.Evaluate(ctx, rule, keyID, value, base); err != nil {
			s.logger.Error("alert evaluation failed",
				"rule_id", rule.ID,
				"key_id", keyID,
				"error", err)
		}
	}
}

// Evaluate checks one rule against a metric value and fires it when the
// condition holds and the cooldown allows. Returns whether the rule fired.
// A condition that holds during cooldown is recorded in history as
// suppressed, not fired.
func (s *AlertService) Evaluate(ctx context.Context, rule *models.AlertRule, keyID string, value, base int64) (bool, error) {
	threshold := s.effectiveThreshold(rule, base)

	if !compare(rule.Operator, value, threshold) {
		if s.metrics != nil {
			s.metrics.RecordAlertEvaluation("clear")
		}
		return false, nil
	}

	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = s.defaultCooldown
	}

	// The conditional stamp is the firing decision: exactly one
	// concurrent evaluation wins.
	fired, err := s.repos.AlertRule.MarkTriggered(ctx, rule.ID, s.now().UTC(), cooldown)
	if err != nil {
		return false, fmt.Errorf("marking rule %s triggered: %w", rule.ID, err)
	}

	outcome := models.AlertTriggered
	message := fmt.Sprintf("%s %d %s %d", rule.Metric, value, rule.Operator, threshold)
	if !fired {
		outcome = models.AlertSuppressed
		message = fmt.Sprintf("%s (cooldown active)", message)
	}
	if s.metrics != nil {
		s.metrics.RecordAlertEvaluation(string(outcome))
	}

	entry := &models.AlertHistoryEntry{
		RuleID:      rule.ID,
		KeyID:       keyID,
		Outcome:     outcome,
		MetricValue: value,
		Threshold:   threshold,
		Message:     message,
	}
	if err := s.repos.AlertHistory.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record alert history", "rule_id", rule.ID, "error", err)
	}

	if !fired {
		return false, nil
	}

	s.logger.Info("alert triggered",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"metric", rule.Metric,
		"value", value,
		"threshold", threshold)

	if s.metrics != nil {
		s.metrics.RecordEventPublished(models.EventAlertTriggered)
	}
	s.bus.Publish(models.Event{
		Type:      models.EventAlertTriggered,
		KeyID:     keyID,
		ProjectID: rule.ProjectID,
		Data: map[string]any{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"metric":    rule.Metric,
			"operator":  rule.Operator,
			"value":     value,
			"threshold": threshold,
		},
	})

	return true, nil
}

// CreateRule validates and stores a new alert rule.
func (s *AlertService) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.repos.AlertRule.Create(ctx, rule)
}

// GetRule fetches one rule, scoped to its owning project.
func (s *AlertService) GetRule(ctx context.Context, projectID, id string) (*models.AlertRule, error) {
	rule, err := s.repos.AlertRule.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil || rule.ProjectID != projectID {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// ListRules returns every rule bound to a project.
func (s *AlertService) ListRules(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	return s.repos.AlertRule.ListByProjectID(ctx, projectID)
}

// UpdateRule applies changes to a rule after re-validating it.
func (s *AlertService) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.repos.AlertRule.Update(ctx, rule)
}

// DeleteRule removes a rule; its history remains.
func (s *AlertService) DeleteRule(ctx context.Context, projectID, id string) error {
	if _, err := s.GetRule(ctx, projectID, id); err != nil {
		return err
	}
	return s.repos.AlertRule.Delete(ctx, id)
}

// History returns evaluation history for a rule, newest first.
func (s *AlertService) History(ctx context.Context, projectID, ruleID string, limit, offset int) ([]*models.AlertHistoryEntry, error) {
	if _, err := s.GetRule(ctx, projectID, ruleID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repos.AlertHistory.GetByRuleID(ctx, ruleID, limit, offset)
}

func validateRule(rule *models.AlertRule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if rule.Metric == "" {
		return fmt.Errorf("rule metric is required")
	}
	switch rule.Operator {
	case ">", ">=", "<", "<=", "=":
	default:
		return fmt.Errorf("unknown operator %q", rule.Operator)
	}
	if rule.ThresholdPercent != nil && (*rule.ThresholdPercent <= 0 || *rule.ThresholdPercent > 100) {
		return fmt.Errorf("threshold_percent must be in (0,100]")
	}
	return nil
}

// effectiveThreshold resolves a percentage threshold against the base
// value when set; otherwise the absolute threshold applies.
func (s *AlertService) effectiveThreshold(rule *models.AlertRule, base int64) int64 {
	if rule.ThresholdPercent != nil && base > 0 {
		return base * int64(*rule.ThresholdPercent) / 100
	}
	return rule.Threshold
}

func compare(operator string, value, threshold int64) bool {
	switch operator {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "=":
		return value == threshold
	}
	return false
}
