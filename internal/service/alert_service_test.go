package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

func newAlertFixture(t *testing.T) (*AlertService, *repository.Repositories, *events.Bus) {
	t.Helper()
	repos := newTestRepos()
	bus := events.NewBus(events.DefaultBufferSize, slog.Default())
	svc := NewAlertService(repos, bus, nil, 15*time.Minute, slog.Default())
	return svc, repos, bus
}

func seedRule(t *testing.T, repos *repository.Repositories, rule *models.AlertRule) *models.AlertRule {
	t.Helper()
	if err := repos.AlertRule.Create(context.Background(), rule); err != nil {
		t.Fatalf("seeding rule: %v", err)
	}
	return rule
}

func TestAlertService_Operators(t *testing.T) {
	tests := []struct {
		operator  string
		value     int64
		threshold int64
		fires     bool
	}{
		{">", 101, 100, true},
		{">", 100, 100, false},
		{">=", 100, 100, true},
		{">=", 99, 100, false},
		{"<", 4, 5, true},
		{"<", 5, 5, false},
		{"<=", 5, 5, true},
		{"<=", 6, 5, false},
		{"=", 42, 42, true},
		{"=", 41, 42, false},
		{"!!", 100, 1, false}, // unknown operator never fires
	}

	for _, tt := range tests {
		t.Run(tt.operator, func(t *testing.T) {
			svc, repos, _ := newAlertFixture(t)
			rule := seedRule(t, repos, &models.AlertRule{
				Name:      "op-test",
				Metric:    "daily_usage",
				Operator:  tt.operator,
				Threshold: tt.threshold,
				IsActive:  true,
			})

			fired, err := svc.Evaluate(context.Background(), rule, "key-1", tt.value, 0)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if fired != tt.fires {
				t.Errorf("%d %s %d: fired=%v, want %v",
					tt.value, tt.operator, tt.threshold, fired, tt.fires)
			}
		})
	}
}

func TestAlertService_PercentThreshold(t *testing.T) {
	svc, repos, _ := newAlertFixture(t)
	rule := seedRule(t, repos, &models.AlertRule{
		Name:             "eighty-percent",
		Metric:           "daily_usage",
		Operator:         ">=",
		ThresholdPercent: iptr(80),
		IsActive:         true,
	})

	// base 1000 -> effective threshold 800.
	fired, err := svc.Evaluate(context.Background(), rule, "key-1", 799, 1000)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fired {
		t.Error("799 of 1000 must not cross an 80% threshold")
	}

	fired, err = svc.Evaluate(context.Background(), rule, "key-1", 800, 1000)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !fired {
		t.Error("800 of 1000 must cross an 80% threshold")
	}
}

func TestAlertService_PercentFallsBackToAbsoluteWithoutBase(t *testing.T) {
	svc, repos, _ := newAlertFixture(t)
	rule := seedRule(t, repos, &models.AlertRule{
		Name:             "fallback",
		Metric:           "daily_usage",
		Operator:         ">",
		Threshold:        50,
		ThresholdPercent: iptr(80),
		IsActive:         true,
	})

	fired, err := svc.Evaluate(context.Background(), rule, "key-1", 51, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !fired {
		t.Error("with no base, the absolute threshold of 50 applies")
	}
}

func TestAlertService_CooldownSuppression(t *testing.T) {
	svc, repos, _ := newAlertFixture(t)
	rule := seedRule(t, repos, &models.AlertRule{
		Name:      "noisy",
		Metric:    "daily_usage",
		Operator:  ">",
		Threshold: 10,
		Cooldown:  time.Hour,
		IsActive:  true,
	})

	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	fired, err := svc.Evaluate(context.Background(), rule, "key-1", 11, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !fired {
		t.Fatal("first evaluation should fire")
	}

	// Still inside the cooldown: condition holds but the rule stays quiet.
	svc.now = func() time.Time { return base.Add(30 * time.Minute) }
	fired, err = svc.Evaluate(context.Background(), rule, "key-1", 12, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fired {
		t.Error("evaluation inside cooldown must not fire")
	}

	// Past the cooldown it fires again.
	svc.now = func() time.Time { return base.Add(2 * time.Hour) }
	fired, err = svc.Evaluate(context.Background(), rule, "key-1", 13, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !fired {
		t.Error("evaluation after cooldown should fire")
	}

	history := repos.AlertHistory.(*mockAlertHistoryRepository).all()
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	outcomes := []models.AlertOutcome{
		models.AlertTriggered, models.AlertSuppressed, models.AlertTriggered,
	}
	for i, want := range outcomes {
		if history[i].Outcome != want {
			t.Errorf("entry %d: expected outcome %s, got %s", i, want, history[i].Outcome)
		}
	}
}

func TestAlertService_ClearConditionLeavesNoHistory(t *testing.T) {
	svc, repos, _ := newAlertFixture(t)
	rule := seedRule(t, repos, &models.AlertRule{
		Name:      "quiet",
		Metric:    "daily_usage",
		Operator:  ">",
		Threshold: 100,
		IsActive:  true,
	})

	fired, err := svc.Evaluate(context.Background(), rule, "key-1", 5, 0)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if fired {
		t.Error("condition does not hold, rule must not fire")
	}
	if got := len(repos.AlertHistory.(*mockAlertHistoryRepository).all()); got != 0 {
		t.Errorf("clear evaluations must not write history, got %d entries", got)
	}
}

func TestAlertService_FirePublishesEvent(t *testing.T) {
	svc, repos, bus := newAlertFixture(t)
	rule := seedRule(t, repos, &models.AlertRule{
		ProjectID: "proj-1",
		Name:      "spike",
		Metric:    "error_rate",
		Operator:  ">=",
		Threshold: 50,
		IsActive:  true,
	})

	ch, unsubscribe := bus.Subscribe(models.EventAlertTriggered)
	defer unsubscribe()

	if _, err := svc.Evaluate(context.Background(), rule, "key-1", 60, 0); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	ev := recvEvent(t, ch)
	if ev.KeyID != "key-1" || ev.ProjectID != "proj-1" {
		t.Errorf("unexpected event scope: key=%s project=%s", ev.KeyID, ev.ProjectID)
	}
	if ev.Data["rule_name"] != "spike" || ev.Data["value"] != int64(60) {
		t.Errorf("unexpected event data: %+v", ev.Data)
	}
}

func TestAlertService_EvaluateForKeyFiltersMetric(t *testing.T) {
	svc, repos, bus := newAlertFixture(t)
	seedRule(t, repos, &models.AlertRule{
		ProjectID: "proj-1",
		Name:      "usage-rule",
		Metric:    "daily_usage",
		Operator:  ">",
		Threshold: 10,
		IsActive:  true,
	})
	seedRule(t, repos, &models.AlertRule{
		ProjectID: "proj-1",
		Name:      "error-rule",
		Metric:    "error_rate",
		Operator:  ">",
		Threshold: 10,
		IsActive:  true,
	})

	ch, unsubscribe := bus.Subscribe(models.EventAlertTriggered)
	defer unsubscribe()

	svc.EvaluateForKey(context.Background(), "key-1", "proj-1", "daily_usage", 11, 0)

	ev := recvEvent(t, ch)
	if ev.Data["rule_name"] != "usage-rule" {
		t.Errorf("expected usage-rule to fire, got %v", ev.Data["rule_name"])
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected extra alert: %+v", ev.Data)
	case <-time.After(100 * time.Millisecond):
	}
}
