package scoring

import (
	"context"
	"log/slog"
	"math"

	"github.com/MentalVibez/fleetdex/internal/store"
)

// Sub-score weights. Device pressure dominates because it is the leading
// indicator of user-visible degradation.
const (
	weightDevice      = 0.40
	weightNetwork     = 0.30
	weightApp         = 0.20
	weightRemediation = 0.10
)

// Components holds the four sub-scores, each already clamped to [0,100].
type Components struct {
	DeviceHealth   float64
	Network        float64
	AppPerformance float64
	Remediation    float64
}

// Composite folds the sub-scores into the weighted 0-100 health number,
// rounded to one decimal place.
func (c Components) Composite() float64 {
	composite := c.DeviceHealth*weightDevice +
		c.Network*weightNetwork +
		c.AppPerformance*weightApp +
		c.Remediation*weightRemediation
	return clamp(math.Round(composite*10) / 10)
}

// Compute derives the sub-scores from one snapshot. Absent readings are
// treated as nominal so a partially populated snapshot still scores.
func Compute(snapshot *store.MetricSnapshot) Components {
	return Components{
		DeviceHealth:   deviceHealth(snapshot),
		Network:        networkHealth(snapshot),
		AppPerformance: appPerformance(snapshot),
		Remediation:    remediationHealth(snapshot),
	}
}

func deviceHealth(s *store.MetricSnapshot) float64 {
	score := 100.0
	if s.CPUPct != nil {
		switch {
		case *s.CPUPct >= 95:
			score -= 40
		case *s.CPUPct > 80:
			score -= 20
		}
	}
	if s.MemoryPct != nil {
		switch {
		case *s.MemoryPct >= 95:
			score -= 35
		case *s.MemoryPct > 85:
			score -= 15
		}
	}
	if s.DiskPct != nil {
		switch {
		case *s.DiskPct >= 95:
			score -= 40
		case *s.DiskPct > 85:
			score -= 20
		}
	}
	return clamp(score)
}

func networkHealth(s *store.MetricSnapshot) float64 {
	score := 100.0
	if s.NetworkLatencyMS != nil {
		switch {
		case *s.NetworkLatencyMS > 500:
			score -= 40
		case *s.NetworkLatencyMS > 100:
			score -= 10
		}
	}
	if s.PacketLossPct != nil {
		switch {
		case *s.PacketLossPct > 5:
			score -= 40
		case *s.PacketLossPct > 1:
			score -= 20
		}
	}
	return clamp(score)
}

func appPerformance(s *store.MetricSnapshot) float64 {
	return clamp(100.0 - 20.0*float64(len(s.ServicesDown)))
}

func remediationHealth(s *store.MetricSnapshot) float64 {
	score := 100.0
	switch {
	case s.LogErrorCount > 50:
		score -= 40
	case s.LogErrorCount > 10:
		score -= 10
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Engine scores snapshots and persists the result.
type Engine struct {
	scores *store.ScoreStore
	logger *slog.Logger
}

// NewEngine wires the scoring engine to its score store.
func NewEngine(scores *store.ScoreStore, logger *slog.Logger) *Engine {
	return &Engine{scores: scores, logger: logger}
}

// Score computes and persists the composite score for one snapshot,
// returning the stored row.
func (e *Engine) Score(ctx context.Context, hostname string, snapshot *store.MetricSnapshot) (*store.DexScore, error) {
	components := Compute(snapshot)
	composite := components.Composite()

	row := &store.DexScore{
		Hostname:            hostname,
		Score:               composite,
		DeviceHealthScore:   ptr(components.DeviceHealth),
		NetworkScore:        ptr(components.Network),
		AppPerformanceScore: ptr(components.AppPerformance),
		RemediationScore:    ptr(components.Remediation),
	}
	if err := e.scores.Insert(ctx, row); err != nil {
		return nil, err
	}

	e.logger.Debug("scored endpoint",
		"hostname", hostname,
		"composite", composite,
		"device", components.DeviceHealth,
		"network", components.Network,
		"app", components.AppPerformance,
		"remediation", components.Remediation)
	return row, nil
}

func ptr(v float64) *float64 { return &v }
