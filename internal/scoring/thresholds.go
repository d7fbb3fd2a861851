package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/store"
)

// LowScoreAlertName is the alert name used for reactive score-threshold
// breaches.
const LowScoreAlertName = "LowDexScore"

// AlertUpserter is the subset of the alert ledger the evaluator needs.
type AlertUpserter interface {
	UpsertOpen(ctx context.Context, params store.UpsertParams) (*store.DexAlert, bool, error)
	ResolveOpen(ctx context.Context, hostname, name string, kind models.AlertKind) (bool, error)
}

// ThresholdEvaluator turns a fresh composite score into at most one reactive
// alert action.
type ThresholdEvaluator struct {
	alerts AlertUpserter
	cfg    config.ScoringConfig
	logger *slog.Logger
}

// NewThresholdEvaluator wires the evaluator to the alert ledger.
func NewThresholdEvaluator(alerts AlertUpserter, cfg config.ScoringConfig, logger *slog.Logger) *ThresholdEvaluator {
	return &ThresholdEvaluator{alerts: alerts, cfg: cfg, logger: logger}
}

// Evaluate applies the threshold rules to a composite score. Below the
// critical threshold the alert is critical, between the thresholds it is a
// warning, and at or above the alert threshold any open reactive alert for
// the hostname is resolved.
func (t *ThresholdEvaluator) Evaluate(ctx context.Context, hostname string, composite float64) error {
	switch {
	case composite < t.cfg.CriticalThreshold:
		return t.raise(ctx, hostname, composite, models.SeverityCritical)
	case composite < t.cfg.AlertThreshold:
		return t.raise(ctx, hostname, composite, models.SeverityWarning)
	default:
		resolved, err := t.alerts.ResolveOpen(ctx, hostname, LowScoreAlertName, models.AlertKindReactive)
		if err != nil {
			return err
		}
		if resolved {
			t.logger.Info("score recovered, reactive alert resolved",
				"hostname", hostname, "score", composite)
		}
		return nil
	}
}

func (t *ThresholdEvaluator) raise(ctx context.Context, hostname string, composite float64, severity models.Severity) error {
	alert, created, err := t.alerts.UpsertOpen(ctx, store.UpsertParams{
		Hostname: hostname,
		Name:     LowScoreAlertName,
		Kind:     models.AlertKindReactive,
		Severity: severity,
		Message:  fmt.Sprintf("composite DEX score dropped to %.1f for %s", composite, hostname),
	})
	if err != nil {
		return err
	}
	t.logger.Warn("score threshold breached",
		"hostname", hostname,
		"score", composite,
		"severity", severity,
		"alert_id", alert.ID,
		"created", created)
	return nil
}
