package store

import (
	"time"

	"github.com/MentalVibez/fleetdex/internal/models"
)

// Endpoint is a managed fleet endpoint. The inventory service owns this
// table; the pipeline only reads it and touches last_scanned_at.
type Endpoint struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Hostname        string     `gorm:"size:255;uniqueIndex;not null" json:"hostname"`
	IPAddress       string     `gorm:"size:64" json:"ip_address,omitempty"`
	OwnerEmail      string     `gorm:"size:255" json:"owner_email,omitempty"`
	Persona         string     `gorm:"size:64" json:"persona,omitempty"`
	CriticalityTier int        `gorm:"not null;default:2" json:"criticality_tier"`
	OSPlatform      string     `gorm:"size:32" json:"os_platform,omitempty"`
	IsActive        bool       `gorm:"not null" json:"is_active"`
	LastScannedAt   *time.Time `json:"last_scanned_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Endpoint) TableName() string { return "dex_endpoints" }

// MetricSnapshot is one immutable point-in-time telemetry reading. Numeric
// columns stay NULL when the scan did not report them.
type MetricSnapshot struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Hostname         string    `gorm:"size:255;index;not null" json:"hostname"`
	RunID            string    `gorm:"size:64;index" json:"run_id,omitempty"`
	CPUPct           *float64  `json:"cpu_pct"`
	MemoryPct        *float64  `json:"memory_pct"`
	DiskPct          *float64  `json:"disk_pct"`
	NetworkLatencyMS *float64  `json:"network_latency_ms"`
	PacketLossPct    *float64  `json:"packet_loss_pct"`
	ServicesDown     []string  `gorm:"serializer:json" json:"services_down"`
	LogErrorCount    int       `gorm:"not null;default:0" json:"log_error_count"`
	RawOutput        string    `gorm:"type:text" json:"-"`
	CapturedAt       time.Time `gorm:"index;autoCreateTime" json:"captured_at"`
}

func (MetricSnapshot) TableName() string { return "dex_metric_snapshots" }

// DexScore is one calculated composite score row. Rows accumulate per
// hostname; the newest row is the current score.
type DexScore struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Hostname            string    `gorm:"size:255;index;not null" json:"hostname"`
	Score               float64   `gorm:"not null" json:"score"`
	DeviceHealthScore   *float64  `json:"device_health_score"`
	NetworkScore        *float64  `json:"network_score"`
	AppPerformanceScore *float64  `json:"app_performance_score"`
	RemediationScore    *float64  `json:"remediation_score"`
	ScoredAt            time.Time `gorm:"index;autoCreateTime" json:"scored_at"`
}

func (DexScore) TableName() string { return "dex_scores" }

// DexAlert is an alert record. The partial unique index enforces the
// one-open-alert invariant per (hostname, alert name, alert kind) even if
// callers race on the lookup-then-write upsert.
type DexAlert struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	Hostname              string             `gorm:"size:255;index;not null;uniqueIndex:uniq_open_alert" json:"hostname"`
	AlertName             string             `gorm:"size:255;not null;uniqueIndex:uniq_open_alert" json:"alert_name"`
	Severity              models.Severity    `gorm:"size:32;not null;default:warning" json:"severity"`
	AlertType             models.AlertKind   `gorm:"size:32;uniqueIndex:uniq_open_alert,where:status = 'active' OR status = 'remediating'" json:"alert_type"`
	Message               string             `gorm:"type:text" json:"message,omitempty"`
	PredictedTimeToImpact string             `gorm:"size:64" json:"predicted_time_to_impact,omitempty"`
	Status                models.AlertStatus `gorm:"size:32;not null;default:active" json:"status"`
	RemediationRunID      string             `gorm:"size:64" json:"remediation_run_id,omitempty"`
	AcknowledgedUntil     *time.Time         `json:"acknowledged_until,omitempty"`
	CreatedAt             time.Time          `gorm:"autoCreateTime" json:"created_at"`
	ResolvedAt            *time.Time         `json:"resolved_at,omitempty"`
}

func (DexAlert) TableName() string { return "dex_alerts" }
