package selfheal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/store"
)

// Action maps one alert name to a remediation recipe.
type Action struct {
	Action   string `yaml:"action"` // ansible | restart | clear_cache | ticket | diagnose
	Playbook string `yaml:"playbook,omitempty"`
	Service  string `yaml:"service,omitempty"`
}

// Outcome describes what the engine did with an alert.
type Outcome struct {
	Action  string `json:"action"` // remediation_started | ticket | skipped
	AlertID uint   `json:"alert_id"`
	RunID   string `json:"run_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// LoadMap reads the remediation map from YAML. It is re-read on every alert
// so edits take effect without a restart; a missing or broken file degrades
// to an empty map.
func LoadMap(path string, logger *slog.Logger) map[string]Action {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("remediation map not readable", "path", path, "error", err)
		return map[string]Action{}
	}

	var doc struct {
		RemediationMap map[string]Action `yaml:"remediation_map"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Error("remediation map is not valid YAML", "path", path, "error", err)
		return map[string]Action{}
	}
	if doc.RemediationMap == nil {
		return map[string]Action{}
	}
	return doc.RemediationMap
}

// RemediationRunner starts an agent run that fixes things rather than just
// observing them.
type RemediationRunner interface {
	Submit(ctx context.Context, goal string, runContext map[string]any) (string, error)
}

// AlertTransitioner is the subset of the alert ledger the engine needs.
type AlertTransitioner interface {
	SetRemediating(ctx context.Context, id uint, runID string) error
	SetNeedsHuman(ctx context.Context, id uint) error
}

// Engine routes fresh alerts to automated remediation or human escalation.
type Engine struct {
	runner     RemediationRunner
	alerts     AlertTransitioner
	cfg        config.SelfHealConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEngine wires the self-healing engine.
func NewEngine(runner RemediationRunner, alerts AlertTransitioner, cfg config.SelfHealConfig, logger *slog.Logger) *Engine {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		runner:     runner,
		alerts:     alerts,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HandleAlert decides what to do with one alert: start a remediation run
// when a mapping exists and self-healing is enabled, otherwise escalate via
// the ticket webhook. Only active alerts are handled; anything else is
// already in flight.
func (e *Engine) HandleAlert(ctx context.Context, alert *store.DexAlert, dexScore *float64) Outcome {
	if alert.Status != models.AlertStatusActive {
		return Outcome{
			Action:  "skipped",
			AlertID: alert.ID,
			Reason:  fmt.Sprintf("alert status is %q", alert.Status),
		}
	}

	remediationMap := LoadMap(e.cfg.RemediationMapPath, e.logger)
	action, mapped := remediationMap[alert.AlertName]

	if mapped && action.Action == "ticket" {
		return e.escalate(ctx, alert, dexScore, "explicit_ticket_mapping")
	}

	if mapped && e.cfg.Enabled {
		runID, err := e.runner.Submit(ctx, buildGoal(action, alert), map[string]any{
			"dex_hostname": alert.Hostname,
			"dex_alert_id": alert.ID,
			"source":       "dex_self_healing",
		})
		if err == nil && runID != "" {
			if err := e.alerts.SetRemediating(ctx, alert.ID, runID); err != nil {
				e.logger.Error("remediation status update failed", "alert_id", alert.ID, "error", err)
			}
			e.logger.Info("remediation run started",
				"alert_id", alert.ID, "hostname", alert.Hostname, "run_id", runID)
			return Outcome{Action: "remediation_started", AlertID: alert.ID, RunID: runID}
		}
		e.logger.Error("remediation run failed to start, escalating",
			"alert_id", alert.ID, "hostname", alert.Hostname, "error", err)
	}

	reason := "no_remediation_mapping"
	if mapped {
		reason = "self_healing_disabled"
	}
	return e.escalate(ctx, alert, dexScore, reason)
}

func (e *Engine) escalate(ctx context.Context, alert *store.DexAlert, dexScore *float64, reason string) Outcome {
	if err := e.alerts.SetNeedsHuman(ctx, alert.ID); err != nil {
		e.logger.Error("escalation status update failed", "alert_id", alert.ID, "error", err)
	}
	e.sendTicketWebhook(ctx, alert, dexScore)
	return Outcome{Action: "ticket", AlertID: alert.ID, Reason: reason}
}

// sendTicketWebhook POSTs a pre-emptive ticket payload. Webhook failures are
// logged, never propagated; the needs_human status already records the
// escalation.
func (e *Engine) sendTicketWebhook(ctx context.Context, alert *store.DexAlert, dexScore *float64) {
	if e.cfg.TicketWebhookURL == "" {
		return
	}

	payload := map[string]any{
		"source":                   "dex_platform",
		"hostname":                 alert.Hostname,
		"alert_name":               alert.AlertName,
		"severity":                 alert.Severity,
		"alert_type":               alert.AlertType,
		"message":                  alert.Message,
		"predicted_time_to_impact": alert.PredictedTimeToImpact,
		"dex_score":                dexScore,
		"alert_id":                 alert.ID,
		"created_at":               alert.CreatedAt.Format(time.RFC3339),
		"recovery_hint": "A DEX alert was detected that could not be auto-remediated. " +
			"Please review the diagnostic data and take manual action.",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("ticket payload marshal failed", "alert_id", alert.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TicketWebhookURL, bytes.NewReader(body))
	if err != nil {
		e.logger.Error("ticket webhook request build failed", "alert_id", alert.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Error("ticket webhook failed", "alert_id", alert.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.Warn("ticket webhook returned non-success",
			"alert_id", alert.ID, "status", resp.StatusCode)
		return
	}
	e.logger.Info("ticket webhook called", "alert_id", alert.ID, "hostname", alert.Hostname)
}

// buildGoal renders a natural-language remediation goal for the agent run.
func buildGoal(action Action, alert *store.DexAlert) string {
	hostname := alert.Hostname
	switch action.Action {
	case "ansible":
		playbook := action.Playbook
		if playbook == "" {
			playbook = "remediate"
		}
		return fmt.Sprintf("Run Ansible playbook '%s' on endpoint '%s' to resolve: %s",
			playbook, hostname, alert.Message)
	case "restart":
		service := action.Service
		if service == "" {
			service = "the affected service"
		}
		return fmt.Sprintf("Restart service '%s' on endpoint '%s' to resolve: %s",
			service, hostname, alert.Message)
	case "clear_cache":
		return fmt.Sprintf("Clear temporary files and application cache on endpoint '%s' to free disk space.",
			hostname)
	default:
		return fmt.Sprintf("Diagnose and resolve the following issue on endpoint '%s': %s",
			hostname, alert.Message)
	}
}
