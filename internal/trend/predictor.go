package trend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/store"
)

// alertWindowHours is the projection horizon within which a rising trend
// becomes a predictive alert.
const alertWindowHours = 168.0

// criticalWindowHours is the horizon below which a predictive alert is
// critical rather than warning.
const criticalWindowHours = 24.0

// trackedMetric binds one snapshot column to its predictive alert name.
type trackedMetric struct {
	label     string
	alertName string
	value     func(*store.MetricSnapshot) *float64
}

var trackedMetrics = []trackedMetric{
	{"disk_pct", "DiskFull", func(s *store.MetricSnapshot) *float64 { return s.DiskPct }},
	{"memory_pct", "MemoryLeak", func(s *store.MetricSnapshot) *float64 { return s.MemoryPct }},
	{"cpu_pct", "SustainedHighCPU", func(s *store.MetricSnapshot) *float64 { return s.CPUPct }},
}

// Projection is the trend outcome for one metric on one hostname.
type Projection struct {
	Hostname      string             `json:"hostname"`
	Metric        string             `json:"metric"`
	AlertName     string             `json:"alert_name"`
	Status        models.TrendStatus `json:"status"`
	SlopePerHour  float64            `json:"slope_per_hour"`
	CurrentValue  float64            `json:"current_value"`
	Projected24H  float64            `json:"projected_24h"`
	Projected7D   float64            `json:"projected_7d"`
	HoursToImpact float64            `json:"hours_to_impact,omitempty"`
	TimeToImpact  string             `json:"time_to_impact,omitempty"`
	SnapshotsUsed int                `json:"snapshots_used"`
}

// AlertLedger is the subset of the alert store the predictor needs.
type AlertLedger interface {
	UpsertOpen(ctx context.Context, params store.UpsertParams) (*store.DexAlert, bool, error)
	ResolveOpen(ctx context.Context, hostname, name string, kind models.AlertKind) (bool, error)
}

// Predictor fits per-metric linear trends over a hostname's recent snapshots
// and drives the predictive alert lifecycle.
type Predictor struct {
	snapshots *store.SnapshotStore
	alerts    AlertLedger
	cfg       config.TrendConfig
	logger    *slog.Logger
}

// NewPredictor wires the predictor to its stores.
func NewPredictor(snapshots *store.SnapshotStore, alerts AlertLedger, cfg config.TrendConfig, logger *slog.Logger) *Predictor {
	return &Predictor{snapshots: snapshots, alerts: alerts, cfg: cfg, logger: logger}
}

// AnalyzeTrends projects each tracked metric for one hostname, raising or
// resolving predictive alerts as the projections dictate.
func (p *Predictor) AnalyzeTrends(ctx context.Context, hostname string) ([]Projection, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(p.cfg.LookbackDays) * 24 * time.Hour)
	snapshots, err := p.snapshots.ListSince(ctx, hostname, cutoff)
	if err != nil {
		return nil, err
	}

	projections := make([]Projection, 0, len(trackedMetrics))
	for _, metric := range trackedMetrics {
		projection := p.analyzeMetric(hostname, metric, snapshots)
		if err := p.applyAlertAction(ctx, projection); err != nil {
			return nil, err
		}
		projections = append(projections, projection)
	}
	return projections, nil
}

func (p *Predictor) analyzeMetric(hostname string, metric trackedMetric, snapshots []store.MetricSnapshot) Projection {
	projection := Projection{
		Hostname:  hostname,
		Metric:    metric.label,
		AlertName: metric.alertName,
	}

	var xs, ys []float64
	var origin time.Time
	for _, snap := range snapshots {
		value := metric.value(&snap)
		if value == nil {
			continue
		}
		if len(xs) == 0 {
			origin = snap.CapturedAt
		}
		xs = append(xs, snap.CapturedAt.Sub(origin).Hours())
		ys = append(ys, *value)
	}
	projection.SnapshotsUsed = len(xs)

	if len(xs) < p.cfg.MinSnapshots {
		projection.Status = models.TrendInsufficientData
		return projection
	}

	slope, _ := linearRegression(xs, ys)
	current := ys[len(ys)-1]
	projection.SlopePerHour = slope
	projection.CurrentValue = current
	projection.Projected24H = capProjection(current + slope*24)
	projection.Projected7D = capProjection(current + slope*24*7)

	if slope <= 0 {
		projection.Status = models.TrendImproving
		return projection
	}

	hours := hoursToThreshold(current, slope, p.cfg.CriticalThresholdPct)
	projection.HoursToImpact = hours
	projection.TimeToImpact = formatTimeToImpact(hours)

	if hours > alertWindowHours {
		projection.Status = models.TrendStable
		return projection
	}
	projection.Status = models.TrendAlert
	return projection
}

// applyAlertAction raises an alert for an "alert" projection and resolves any
// open predictive alert once the trend stops pointing at the threshold.
// Insufficient data takes no action either way.
func (p *Predictor) applyAlertAction(ctx context.Context, projection Projection) error {
	switch projection.Status {
	case models.TrendAlert:
		severity := models.SeverityWarning
		if projection.HoursToImpact <= criticalWindowHours {
			severity = models.SeverityCritical
		}
		message := fmt.Sprintf("%s at %.1f%% is trending toward %.1f%% in approximately %s",
			projection.Metric, projection.CurrentValue, p.cfg.CriticalThresholdPct, projection.TimeToImpact)

		alert, created, err := p.alerts.UpsertOpen(ctx, store.UpsertParams{
			Hostname:     projection.Hostname,
			Name:         projection.AlertName,
			Kind:         models.AlertKindPredictive,
			Severity:     severity,
			Message:      message,
			TimeToImpact: projection.TimeToImpact,
		})
		if err != nil {
			return err
		}
		p.logger.Warn("predictive alert raised",
			"hostname", projection.Hostname,
			"metric", projection.Metric,
			"time_to_impact", projection.TimeToImpact,
			"severity", severity,
			"alert_id", alert.ID,
			"created", created)
		return nil
	case models.TrendImproving, models.TrendStable:
		resolved, err := p.alerts.ResolveOpen(ctx, projection.Hostname, projection.AlertName, models.AlertKindPredictive)
		if err != nil {
			return err
		}
		if resolved {
			p.logger.Info("trend cleared, predictive alert resolved",
				"hostname", projection.Hostname, "metric", projection.Metric)
		}
		return nil
	default:
		return nil
	}
}

// linearRegression fits y = slope*x + intercept by ordinary least squares.
// With fewer than 2 points the slope is 0 and the intercept is the last
// known value.
func linearRegression(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	if len(xs) < 2 {
		if len(ys) > 0 {
			return 0, ys[len(ys)-1]
		}
		return 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, ys[len(ys)-1]
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// hoursToThreshold projects how long a positive slope takes to carry the
// current value to the threshold. A value already at or past the threshold
// projects zero hours.
func hoursToThreshold(current, slope, threshold float64) float64 {
	remaining := threshold - current
	if remaining <= 0 {
		return 0
	}
	return remaining / slope
}

func formatTimeToImpact(hours float64) string {
	switch {
	case hours < 1:
		return fmt.Sprintf("%d minutes", int(hours*60))
	case hours < 24:
		return fmt.Sprintf("%.1f hours", hours)
	default:
		return fmt.Sprintf("%.1f days", hours/24)
	}
}

func capProjection(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}
