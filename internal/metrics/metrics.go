package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeScanned labels endpoints that completed the scan pipeline.
	OutcomeScanned = "scanned"
	// OutcomeError labels endpoints that failed during scanning.
	OutcomeError = "error"
	// OutcomeSkipped labels endpoints whose runs timed out or ended without
	// an answer.
	OutcomeSkipped = "skipped"
)

var (
	endpointScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetdex",
			Name:      "endpoint_scans_total",
			Help:      "Total endpoint scan outcomes, partitioned by result.",
		},
		[]string{"outcome"},
	)

	scanBatchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetdex",
			Name:      "scan_batch_seconds",
			Help:      "Duration of one full fleet scan batch in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	sweepEndpointsAnalyzed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetdex",
			Name:      "sweep_endpoints_analyzed_total",
			Help:      "Total endpoints analyzed by predictive sweeps.",
		},
	)

	sweepTrendAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetdex",
			Name:      "sweep_trend_alerts_total",
			Help:      "Total predictive alerts raised or refreshed by sweeps.",
		},
	)

	openAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetdex",
			Name:      "open_alerts",
			Help:      "Current number of open (active or remediating) alerts.",
		},
	)
)

// Register attaches fleetdex collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		endpointScansTotal,
		scanBatchDurationSeconds,
		sweepEndpointsAnalyzed,
		sweepTrendAlertsTotal,
		openAlerts,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveScanBatch records the outcome counts and duration of one fleet scan.
func ObserveScanBatch(scanned, errors, skipped int, duration time.Duration) {
	endpointScansTotal.WithLabelValues(OutcomeScanned).Add(float64(scanned))
	endpointScansTotal.WithLabelValues(OutcomeError).Add(float64(errors))
	endpointScansTotal.WithLabelValues(OutcomeSkipped).Add(float64(skipped))
	if duration < 0 {
		duration = 0
	}
	scanBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveSweep records the outcome of one predictive sweep.
func ObserveSweep(endpointsAnalyzed, trendAlerts int) {
	sweepEndpointsAnalyzed.Add(float64(endpointsAnalyzed))
	sweepTrendAlertsTotal.Add(float64(trendAlerts))
}

// SetOpenAlerts publishes the current open-alert count.
func SetOpenAlerts(n int64) {
	openAlerts.Set(float64(n))
}
