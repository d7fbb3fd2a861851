package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/MentalVibez/fleetdex/internal/cache"
	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/selfheal"
	"github.com/MentalVibez/fleetdex/internal/store"
	"github.com/MentalVibez/fleetdex/internal/trend"
)

// ScanTrigger starts an on-demand endpoint scan.
type ScanTrigger interface {
	ScanHostname(ctx context.Context, hostname string) (string, error)
}

// TrendAnalyzer projects metric trends for one hostname.
type TrendAnalyzer interface {
	AnalyzeTrends(ctx context.Context, hostname string) ([]trend.Projection, error)
}

// Healer routes a fresh alert to remediation or escalation.
type Healer interface {
	HandleAlert(ctx context.Context, alert *store.DexAlert, dexScore *float64) selfheal.Outcome
}

// Handlers owns the REST surface over the telemetry pipeline's stores.
type Handlers struct {
	inventory *store.InventoryRepo
	snapshots *store.SnapshotStore
	scores    *store.ScoreStore
	ledger    *store.AlertLedger
	trends    TrendAnalyzer
	scanner   ScanTrigger
	healer    Healer
	cache     cache.Provider
	scoring   config.ScoringConfig
	scoreTTL  time.Duration
	logger    *slog.Logger
}

// NewHandlers wires the REST handlers. cacheProvider may be a NoopProvider.
func NewHandlers(
	inventory *store.InventoryRepo,
	snapshots *store.SnapshotStore,
	scores *store.ScoreStore,
	ledger *store.AlertLedger,
	trends TrendAnalyzer,
	scanner ScanTrigger,
	healer Healer,
	cacheProvider cache.Provider,
	scoring config.ScoringConfig,
	scoreTTL time.Duration,
	logger *slog.Logger,
) *Handlers {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Handlers{
		inventory: inventory,
		snapshots: snapshots,
		scores:    scores,
		ledger:    ledger,
		trends:    trends,
		scanner:   scanner,
		healer:    healer,
		cache:     cacheProvider,
		scoring:   scoring,
		scoreTTL:  scoreTTL,
		logger:    logger,
	}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	dex := v1.PathPrefix("/dex").Subrouter()
	dex.HandleFunc("/fleet", h.fleetSummary).Methods(http.MethodGet)
	dex.HandleFunc("/endpoints", h.listEndpoints).Methods(http.MethodGet)
	dex.HandleFunc("/endpoints/{hostname}/score", h.getScore).Methods(http.MethodGet)
	dex.HandleFunc("/endpoints/{hostname}/history", h.getScoreHistory).Methods(http.MethodGet)
	dex.HandleFunc("/endpoints/{hostname}/snapshots", h.getSnapshots).Methods(http.MethodGet)
	dex.HandleFunc("/endpoints/{hostname}/trends", h.getTrends).Methods(http.MethodGet)
	dex.HandleFunc("/endpoints/{hostname}/scan", h.triggerScan).Methods(http.MethodPost)
	dex.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	dex.HandleFunc("/alerts/{id:[0-9]+}/acknowledge", h.acknowledgeAlert).Methods(http.MethodPost)

	v1.HandleFunc("/webhooks/alertmanager", h.alertmanagerWebhook).Methods(http.MethodPost)
}

func (h *Handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) listEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.inventory.ListActiveEndpoints(r.Context())
	if err != nil {
		h.serverError(w, "list endpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// scorePayload is the cached and served shape of a current-score lookup.
type scorePayload struct {
	Hostname   string           `json:"hostname"`
	Score      float64          `json:"score"`
	Components *scoreComponents `json:"components,omitempty"`
	ScoredAt   time.Time        `json:"scored_at"`
}

type scoreComponents struct {
	DeviceHealth   *float64 `json:"device_health"`
	Network        *float64 `json:"network"`
	AppPerformance *float64 `json:"app_performance"`
	Remediation    *float64 `json:"remediation"`
}

func (h *Handlers) getScore(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]
	cacheKey := "fleetdex:score:" + hostname

	if cached, err := h.cache.Get(r.Context(), cacheKey); err == nil {
		var payload scorePayload
		if json.Unmarshal(cached, &payload) == nil {
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	latest, err := h.scores.Latest(r.Context(), hostname)
	if err != nil {
		h.serverError(w, "latest score", err)
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no score recorded for %q", hostname))
		return
	}

	payload := scorePayload{
		Hostname: latest.Hostname,
		Score:    latest.Score,
		ScoredAt: latest.ScoredAt,
		Components: &scoreComponents{
			DeviceHealth:   latest.DeviceHealthScore,
			Network:        latest.NetworkScore,
			AppPerformance: latest.AppPerformanceScore,
			Remediation:    latest.RemediationScore,
		},
	}

	if body, err := json.Marshal(payload); err == nil {
		if err := h.cache.Set(r.Context(), cacheKey, body, h.scoreTTL); err != nil {
			h.logger.Debug("score cache write failed", "hostname", hostname, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handlers) getScoreHistory(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]
	limit := queryInt(r, "limit", 96)

	history, err := h.scores.History(r.Context(), hostname, limit)
	if err != nil {
		h.serverError(w, "score history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hostname": hostname,
		"scores":   history,
		"count":    len(history),
	})
}

func (h *Handlers) getSnapshots(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]
	limit := queryInt(r, "limit", 100)

	snapshots, err := h.snapshots.ListRecent(r.Context(), hostname, limit)
	if err != nil {
		h.serverError(w, "list snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hostname":  hostname,
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

func (h *Handlers) getTrends(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]

	projections, err := h.trends.AnalyzeTrends(r.Context(), hostname)
	if err != nil {
		h.serverError(w, "trend analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hostname": hostname,
		"trends":   projections,
	})
}

func (h *Handlers) triggerScan(w http.ResponseWriter, r *http.Request) {
	hostname := mux.Vars(r)["hostname"]

	endpoints, err := h.inventory.ListActiveEndpoints(r.Context())
	if err != nil {
		h.serverError(w, "list endpoints", err)
		return
	}
	known := false
	for _, ep := range endpoints {
		if ep.Hostname == hostname {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, fmt.Sprintf("endpoint %q not found", hostname))
		return
	}

	runID, err := h.scanner.ScanHostname(r.Context(), hostname)
	if err != nil {
		h.logger.Error("manual scan trigger failed", "hostname", hostname, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to start scan")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":       true,
		"hostname": hostname,
		"run_id":   runID,
	})
}

func (h *Handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	filter := store.AlertFilter{
		Hostname: r.URL.Query().Get("hostname"),
		Kind:     models.AlertKind(r.URL.Query().Get("kind")),
		Status:   models.AlertStatus(r.URL.Query().Get("status")),
		OpenOnly: r.URL.Query().Get("open") == "true",
		Limit:    queryInt(r, "limit", 200),
	}

	alerts, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *Handlers) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var body struct {
		Hours int `json:"hours"`
	}
	if r.Body != nil {
		// An empty body means the default window.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	alert, err := h.ledger.Acknowledge(r.Context(), uint(id), body.Hours)
	if err != nil {
		h.serverError(w, "acknowledge alert", err)
		return
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("alert %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handlers) fleetSummary(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.inventory.ListActiveEndpoints(r.Context())
	if err != nil {
		h.serverError(w, "list endpoints", err)
		return
	}

	summary := map[string]any{
		"total_endpoints":  len(endpoints),
		"endpoints_scored": 0,
		"avg_dex_score":    nil,
		"at_risk":          0,
		"critical":         0,
		"healthy":          0,
		"thresholds": map[string]float64{
			"alert":    h.scoring.AlertThreshold,
			"critical": h.scoring.CriticalThreshold,
		},
	}
	if len(endpoints) == 0 {
		writeJSON(w, http.StatusOK, summary)
		return
	}

	var scored, atRisk, critical, healthy int
	var total float64
	for _, ep := range endpoints {
		latest, err := h.scores.Latest(r.Context(), ep.Hostname)
		if err != nil {
			h.serverError(w, "latest score", err)
			return
		}
		if latest == nil {
			continue
		}
		scored++
		total += latest.Score
		switch {
		case latest.Score <= h.scoring.CriticalThreshold:
			critical++
			atRisk++
		case latest.Score <= h.scoring.AlertThreshold:
			atRisk++
		default:
			healthy++
		}
	}

	summary["endpoints_scored"] = scored
	summary["at_risk"] = atRisk
	summary["critical"] = critical
	summary["healthy"] = healthy
	if scored > 0 {
		summary["avg_dex_score"] = roundOne(total / float64(scored))
	}
	writeJSON(w, http.StatusOK, summary)
}

// alertmanagerPayload is the subset of the Alertmanager v4 webhook body the
// pipeline consumes.
type alertmanagerPayload struct {
	Status string `json:"status"`
	Alerts []struct {
		Status      string            `json:"status"`
		Labels      map[string]string `json:"labels"`
		Annotations map[string]string `json:"annotations"`
	} `json:"alerts"`
}

// alertmanagerWebhook ingests firing Alertmanager alerts for managed
// endpoints as prometheus-kind alerts and pushes each new one through the
// self-healing engine.
func (h *Handlers) alertmanagerWebhook(w http.ResponseWriter, r *http.Request) {
	var payload alertmanagerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	endpoints, err := h.inventory.ListActiveEndpoints(r.Context())
	if err != nil {
		h.serverError(w, "list endpoints", err)
		return
	}
	managed := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		managed[ep.Hostname] = true
	}

	ingested := 0
	for _, am := range payload.Alerts {
		if am.Status != "firing" {
			continue
		}

		hostname := am.Labels["hostname"]
		if hostname == "" {
			hostname = strings.SplitN(am.Labels["instance"], ":", 2)[0]
		}
		if hostname == "" || !managed[hostname] {
			continue
		}

		alertName := am.Labels["alertname"]
		if alertName == "" {
			alertName = "PrometheusAlert"
		}
		severity := models.SeverityWarning
		if am.Labels["severity"] == "critical" {
			severity = models.SeverityCritical
		}
		message := am.Annotations["summary"]
		if message == "" {
			message = am.Annotations["description"]
		}
		if message == "" {
			message = fmt.Sprintf("Prometheus alert %s firing for %s", alertName, hostname)
		}

		alert, created, err := h.ledger.UpsertOpen(r.Context(), store.UpsertParams{
			Hostname: hostname,
			Name:     alertName,
			Kind:     models.AlertKindPrometheus,
			Severity: severity,
			Message:  message,
		})
		if err != nil {
			h.serverError(w, "ingest prometheus alert", err)
			return
		}
		if !created {
			// Duplicate of an alert already in flight.
			continue
		}
		ingested++

		if h.healer != nil {
			outcome := h.healer.HandleAlert(r.Context(), alert, nil)
			h.logger.Info("prometheus alert routed",
				"hostname", hostname, "alert", alertName, "action", outcome.Action)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"status":       payload.Status,
		"alerts_count": len(payload.Alerts),
		"ingested":     ingested,
	})
}

func (h *Handlers) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func roundOne(v float64) float64 {
	return math.Round(v*10) / 10
}
