package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/trend"
)

// TrendAnalyzer projects metric trends for one hostname.
type TrendAnalyzer interface {
	AnalyzeTrends(ctx context.Context, hostname string) ([]trend.Projection, error)
}

// PredictiveSweep runs trend analysis across the whole fleet once per hour.
type PredictiveSweep struct {
	inventory Inventory
	predictor TrendAnalyzer
	logger    *slog.Logger
}

// NewPredictiveSweep wires the sweep to the inventory and predictor.
func NewPredictiveSweep(inventory Inventory, predictor TrendAnalyzer, logger *slog.Logger) *PredictiveSweep {
	return &PredictiveSweep{inventory: inventory, predictor: predictor, logger: logger}
}

// Run analyzes every active endpoint and counts fleet-wide trend alerts. A
// failing endpoint is logged and contributes no alerts, but still counts as
// analyzed; the sweep always completes.
func (s *PredictiveSweep) Run(ctx context.Context) (models.SweepReport, error) {
	endpoints, err := s.inventory.ListActiveEndpoints(ctx)
	if err != nil {
		return models.SweepReport{}, fmt.Errorf("list endpoints: %w", err)
	}

	started := time.Now()
	var report models.SweepReport
	for _, endpoint := range endpoints {
		if ctx.Err() != nil {
			s.logger.Warn("predictive sweep cancelled", "analyzed", report.EndpointsAnalyzed)
			return report, nil
		}

		report.EndpointsAnalyzed++
		projections, err := s.predictor.AnalyzeTrends(ctx, endpoint.Hostname)
		if err != nil {
			s.logger.Error("trend analysis failed", "hostname", endpoint.Hostname, "error", err)
			continue
		}
		for _, projection := range projections {
			if projection.Status == models.TrendAlert {
				report.AlertsCreatedOrUpdated++
			}
		}
	}

	s.logger.Info("predictive sweep finished",
		"endpoints_analyzed", report.EndpointsAnalyzed,
		"alerts", report.AlertsCreatedOrUpdated,
		"duration", time.Since(started))
	return report, nil
}
