package models

import "encoding/json"

// TelemetryReading is the structured form of one agent scan answer. Numeric
// fields are pointers so an absent reading stays distinguishable from zero.
type TelemetryReading struct {
	CPUPct           *float64 `json:"cpu_pct"`
	MemoryPct        *float64 `json:"memory_pct"`
	DiskPct          *float64 `json:"disk_pct"`
	NetworkLatencyMS *float64 `json:"network_latency_ms"`
	PacketLossPct    *float64 `json:"packet_loss_pct"`
	ServicesDown     []string `json:"services_down"`
	LogErrorCount    int      `json:"log_error_count"`

	// Raw holds the JSON object exactly as parsed out of the answer.
	Raw json.RawMessage `json:"-"`
}

// Severity captures alert impact levels.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertKind distinguishes how an alert was derived.
type AlertKind string

const (
	// AlertKindReactive marks alerts raised by the current composite score
	// crossing a static threshold.
	AlertKindReactive AlertKind = "reactive"
	// AlertKindPredictive marks alerts raised by trend projection.
	AlertKindPredictive AlertKind = "predictive"
	// AlertKindPrometheus marks alerts ingested from an Alertmanager webhook.
	AlertKindPrometheus AlertKind = "prometheus"
)

// AlertStatus enumerates the alert lifecycle.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusRemediating  AlertStatus = "remediating"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusNeedsHuman   AlertStatus = "needs_human"
	AlertStatusResolved     AlertStatus = "resolved"
)

// OpenStatuses are the statuses that count against the one-open-alert
// invariant per (hostname, alert name, alert kind).
func OpenStatuses() []AlertStatus {
	return []AlertStatus{AlertStatusActive, AlertStatusRemediating}
}

// TrendStatus classifies the outcome of trend analysis for one metric.
type TrendStatus string

const (
	TrendInsufficientData TrendStatus = "insufficient_data"
	TrendImproving        TrendStatus = "improving"
	TrendStable           TrendStatus = "stable_trend"
	TrendAlert            TrendStatus = "alert"
)

// ScanReport aggregates the outcome of one orchestrated fleet scan.
type ScanReport struct {
	Scanned int `json:"scanned"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// SweepReport aggregates the outcome of one predictive sweep pass.
type SweepReport struct {
	EndpointsAnalyzed      int `json:"endpoints_analyzed"`
	AlertsCreatedOrUpdated int `json:"alerts_created_or_updated"`
}
