package scoring

import (
	"context"
	"testing"

	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/store"
	"github.com/MentalVibez/fleetdex/internal/utils"
)

func f(v float64) *float64 { return &v }

func TestCompositeNominalInput(t *testing.T) {
	snapshot := &store.MetricSnapshot{
		CPUPct:           f(12.0),
		MemoryPct:        f(40.0),
		DiskPct:          f(55.0),
		NetworkLatencyMS: f(20.0),
		PacketLossPct:    f(0.0),
		ServicesDown:     []string{},
		LogErrorCount:    0,
	}
	composite := Compute(snapshot).Composite()
	if composite < 80 {
		t.Fatalf("expected nominal composite >= 80, got %.1f", composite)
	}
	if composite != 100 {
		t.Fatalf("expected fully nominal input to score 100, got %.1f", composite)
	}
}

func TestCompositeDegradedInput(t *testing.T) {
	snapshot := &store.MetricSnapshot{
		CPUPct:           f(95.0),
		MemoryPct:        f(97.0),
		DiskPct:          f(96.0),
		NetworkLatencyMS: f(800.0),
		PacketLossPct:    f(8.0),
		ServicesDown:     []string{"nginx", "postgres"},
		LogErrorCount:    100,
	}
	composite := Compute(snapshot).Composite()
	if composite >= 30 {
		t.Fatalf("expected degraded composite < 30, got %.1f", composite)
	}
}

func TestCompositeAbsentReadingsAreNominal(t *testing.T) {
	composite := Compute(&store.MetricSnapshot{ServicesDown: []string{}}).Composite()
	if composite != 100 {
		t.Fatalf("expected empty snapshot to score 100, got %.1f", composite)
	}

	// Only one degraded reading; everything absent stays unpenalized.
	partial := Compute(&store.MetricSnapshot{DiskPct: f(96.0)}).Composite()
	if partial >= 100 || partial < 80 {
		t.Fatalf("expected partial snapshot between 80 and 100, got %.1f", partial)
	}
}

func TestCompositeClampedToRange(t *testing.T) {
	snapshot := &store.MetricSnapshot{
		ServicesDown: []string{"a", "b", "c", "d", "e", "f", "g"},
	}
	components := Compute(snapshot)
	if components.AppPerformance != 0 {
		t.Fatalf("expected app sub-score clamped to 0, got %.1f", components.AppPerformance)
	}
	composite := components.Composite()
	if composite < 0 || composite > 100 {
		t.Fatalf("composite out of range: %.1f", composite)
	}
}

func TestEngineScorePersistsRow(t *testing.T) {
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	scores := store.NewScoreStore(db)
	engine := NewEngine(scores, utils.NewLogger("error", false))
	ctx := context.Background()

	row, err := engine.Score(ctx, "host-a", &store.MetricSnapshot{
		CPUPct:       f(99.0),
		ServicesDown: []string{},
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if row.ID == 0 {
		t.Fatal("expected persisted score row")
	}
	if row.DeviceHealthScore == nil || *row.DeviceHealthScore != 60 {
		t.Fatalf("expected device sub-score 60, got %v", row.DeviceHealthScore)
	}

	latest, err := scores.Latest(ctx, "host-a")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Score != row.Score {
		t.Fatalf("expected stored score %v, got %+v", row.Score, latest)
	}
}

type fakeLedger struct {
	upserts  []store.UpsertParams
	resolves int
	open     bool
}

func (l *fakeLedger) UpsertOpen(_ context.Context, params store.UpsertParams) (*store.DexAlert, bool, error) {
	l.upserts = append(l.upserts, params)
	created := !l.open
	l.open = true
	return &store.DexAlert{ID: 1, Hostname: params.Hostname, Severity: params.Severity}, created, nil
}

func (l *fakeLedger) ResolveOpen(context.Context, string, string, models.AlertKind) (bool, error) {
	l.resolves++
	resolved := l.open
	l.open = false
	return resolved, nil
}

func TestThresholdEvaluatorSeverities(t *testing.T) {
	cfg := config.ScoringConfig{AlertThreshold: 60, CriticalThreshold: 40}
	ledger := &fakeLedger{}
	eval := NewThresholdEvaluator(ledger, cfg, utils.NewLogger("error", false))
	ctx := context.Background()

	if err := eval.Evaluate(ctx, "host-a", 39.9); err != nil {
		t.Fatalf("evaluate critical: %v", err)
	}
	if len(ledger.upserts) != 1 || ledger.upserts[0].Severity != models.SeverityCritical {
		t.Fatalf("expected critical upsert, got %+v", ledger.upserts)
	}

	if err := eval.Evaluate(ctx, "host-a", 40.0); err != nil {
		t.Fatalf("evaluate warning boundary: %v", err)
	}
	if len(ledger.upserts) != 2 || ledger.upserts[1].Severity != models.SeverityWarning {
		t.Fatalf("expected warning at the critical boundary, got %+v", ledger.upserts)
	}

	if err := eval.Evaluate(ctx, "host-a", 59.9); err != nil {
		t.Fatalf("evaluate warning: %v", err)
	}
	if ledger.upserts[2].Severity != models.SeverityWarning {
		t.Fatalf("expected warning upsert, got %+v", ledger.upserts[2])
	}
	if ledger.upserts[2].Kind != models.AlertKindReactive {
		t.Fatalf("expected reactive kind, got %s", ledger.upserts[2].Kind)
	}

	if err := eval.Evaluate(ctx, "host-a", 60.0); err != nil {
		t.Fatalf("evaluate recovery: %v", err)
	}
	if ledger.resolves != 1 || ledger.open {
		t.Fatalf("expected open alert resolved at the alert threshold, resolves=%d", ledger.resolves)
	}

	// No open alert and a healthy score takes no action beyond the resolve
	// lookup.
	if err := eval.Evaluate(ctx, "host-a", 95.0); err != nil {
		t.Fatalf("evaluate healthy: %v", err)
	}
	if len(ledger.upserts) != 3 {
		t.Fatalf("expected no further upserts, got %d", len(ledger.upserts))
	}
}
