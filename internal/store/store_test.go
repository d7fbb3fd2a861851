package store

import (
	"context"
	"testing"
	"time"

	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/models"
)

func openTestDB(t *testing.T) *AlertLedger {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return NewAlertLedger(db, nil, nil)
}

func f(v float64) *float64 { return &v }

func TestSnapshotInsertNormalizesServices(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	snapshots := NewSnapshotStore(db)
	ctx := context.Background()

	snap, err := snapshots.Insert(ctx, "host-a", "run-1", models.TelemetryReading{
		CPUPct: f(42.5),
	})
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
	if snap.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if snap.ServicesDown == nil || len(snap.ServicesDown) != 0 {
		t.Fatalf("expected empty services list, got %v", snap.ServicesDown)
	}
	if snap.MemoryPct != nil {
		t.Fatalf("expected nil memory reading, got %v", *snap.MemoryPct)
	}
	if snap.CapturedAt.IsZero() {
		t.Fatal("expected captured_at to be set")
	}
}

func TestSnapshotListSinceOrdersAscending(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	snapshots := NewSnapshotStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		row := &MetricSnapshot{
			Hostname:     "host-a",
			CPUPct:       f(float64(50 + i)),
			ServicesDown: []string{},
			CapturedAt:   base.Add(time.Duration(i) * time.Hour),
		}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed snapshot: %v", err)
		}
	}
	if err := db.Create(&MetricSnapshot{Hostname: "host-b", ServicesDown: []string{}, CapturedAt: base}).Error; err != nil {
		t.Fatalf("seed other host: %v", err)
	}

	got, err := snapshots.ListSince(ctx, "host-a", base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if !got[0].CapturedAt.Before(got[1].CapturedAt) {
		t.Fatal("expected ascending capture order")
	}
	if *got[0].CPUPct != 51 || *got[1].CPUPct != 52 {
		t.Fatalf("unexpected rows: %v, %v", *got[0].CPUPct, *got[1].CPUPct)
	}
}

func TestScoreLatestAndHistory(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	scores := NewScoreStore(db)
	ctx := context.Background()

	latest, err := scores.Latest(ctx, "host-a")
	if err != nil {
		t.Fatalf("latest on empty table: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil score for unscored host, got %+v", latest)
	}

	base := time.Now().UTC().Add(-time.Hour)
	for i, v := range []float64{70, 80, 90} {
		row := &DexScore{Hostname: "host-a", Score: v, ScoredAt: base.Add(time.Duration(i) * time.Minute)}
		if err := scores.Insert(ctx, row); err != nil {
			t.Fatalf("insert score: %v", err)
		}
	}

	latest, err = scores.Latest(ctx, "host-a")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Score != 90 {
		t.Fatalf("expected latest score 90, got %+v", latest)
	}

	history, err := scores.History(ctx, "host-a", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Score != 90 || history[1].Score != 80 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestAlertUpsertRefreshesOpenRow(t *testing.T) {
	ledger := openTestDB(t)
	ctx := context.Background()

	params := UpsertParams{
		Hostname: "host-a",
		Name:     "LowDexScore",
		Kind:     models.AlertKindReactive,
		Severity: models.SeverityWarning,
		Message:  "score dropped to 55.0",
	}
	first, created, err := ledger.UpsertOpen(ctx, params)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Fatal("expected first upsert to create")
	}
	if first.Status != models.AlertStatusActive {
		t.Fatalf("expected active status, got %s", first.Status)
	}

	params.Severity = models.SeverityCritical
	params.Message = "score dropped to 22.0"
	second, created, err := ledger.UpsertOpen(ctx, params)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("expected second upsert to refresh, not create")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got ids %d and %d", first.ID, second.ID)
	}
	if second.Severity != models.SeverityCritical {
		t.Fatalf("expected refreshed severity, got %s", second.Severity)
	}

	open, err := ledger.List(ctx, AlertFilter{Hostname: "host-a", OpenOnly: true})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one open alert, got %d", len(open))
	}
}

func TestAlertResolveOpenAllowsNewAlert(t *testing.T) {
	ledger := openTestDB(t)
	ctx := context.Background()

	params := UpsertParams{
		Hostname: "host-a",
		Name:     "LowDexScore",
		Kind:     models.AlertKindReactive,
		Severity: models.SeverityCritical,
	}
	first, _, err := ledger.UpsertOpen(ctx, params)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	resolved, err := ledger.ResolveOpen(ctx, "host-a", "LowDexScore", models.AlertKindReactive)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved {
		t.Fatal("expected an alert to be resolved")
	}

	got, err := ledger.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.AlertStatusResolved || got.ResolvedAt == nil {
		t.Fatalf("expected resolved row with timestamp, got %+v", got)
	}

	// Resolving again is a no-op.
	resolved, err = ledger.ResolveOpen(ctx, "host-a", "LowDexScore", models.AlertKindReactive)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if resolved {
		t.Fatal("expected no open alert to resolve")
	}

	// A fresh condition opens a new row rather than reviving the old one.
	next, created, err := ledger.UpsertOpen(ctx, params)
	if err != nil {
		t.Fatalf("upsert after resolve: %v", err)
	}
	if !created || next.ID == first.ID {
		t.Fatalf("expected a new alert row, got created=%v id=%d", created, next.ID)
	}
}

func TestOpenAlertIndexSurvivesMigration(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	ledger := NewAlertLedger(db, nil, nil)
	ctx := context.Background()

	params := UpsertParams{
		Hostname: "host-a",
		Name:     "LowDexScore",
		Kind:     models.AlertKindReactive,
		Severity: models.SeverityWarning,
	}
	for i := 0; i < 5; i++ {
		if _, _, err := ledger.UpsertOpen(ctx, params); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	open, err := ledger.List(ctx, AlertFilter{Hostname: "host-a", OpenOnly: true})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open row after repeated upserts, got %d", len(open))
	}

	// The partial index rejects a second open row even when the upsert path
	// is bypassed.
	dup := &DexAlert{
		Hostname:  "host-a",
		AlertName: "LowDexScore",
		AlertType: models.AlertKindReactive,
		Severity:  models.SeverityWarning,
		Status:    models.AlertStatusActive,
	}
	if err := db.Create(dup).Error; err == nil {
		t.Fatal("expected duplicate open row to violate the unique index")
	}

	if _, err := ledger.ResolveOpen(ctx, "host-a", "LowDexScore", models.AlertKindReactive); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Resolved rows sit outside the index predicate, so a re-raise creates a
	// fresh row alongside the resolved one.
	if _, created, err := ledger.UpsertOpen(ctx, params); err != nil || !created {
		t.Fatalf("expected re-raise to create, got created=%v err=%v", created, err)
	}
	open, _ = ledger.List(ctx, AlertFilter{Hostname: "host-a", OpenOnly: true})
	if len(open) != 1 {
		t.Fatalf("expected one open row after re-raise, got %d", len(open))
	}
}

func TestAlertKindsTrackedIndependently(t *testing.T) {
	ledger := openTestDB(t)
	ctx := context.Background()

	if _, _, err := ledger.UpsertOpen(ctx, UpsertParams{
		Hostname: "host-a", Name: "DiskFull", Kind: models.AlertKindPredictive,
		Severity: models.SeverityWarning,
	}); err != nil {
		t.Fatalf("predictive upsert: %v", err)
	}
	if _, _, err := ledger.UpsertOpen(ctx, UpsertParams{
		Hostname: "host-a", Name: "DiskFull", Kind: models.AlertKindPrometheus,
		Severity: models.SeverityWarning,
	}); err != nil {
		t.Fatalf("prometheus upsert: %v", err)
	}

	open, err := ledger.List(ctx, AlertFilter{Hostname: "host-a", OpenOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected both kinds open, got %d", len(open))
	}

	predictive, err := ledger.List(ctx, AlertFilter{Kind: models.AlertKindPredictive})
	if err != nil {
		t.Fatalf("list predictive: %v", err)
	}
	if len(predictive) != 1 {
		t.Fatalf("expected one predictive alert, got %d", len(predictive))
	}
}

func TestAlertAcknowledge(t *testing.T) {
	ledger := openTestDB(t)
	ctx := context.Background()

	alert, _, err := ledger.UpsertOpen(ctx, UpsertParams{
		Hostname: "host-a", Name: "LowDexScore", Kind: models.AlertKindReactive,
		Severity: models.SeverityWarning,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	acked, err := ledger.Acknowledge(ctx, alert.ID, 4)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.AlertStatusAcknowledged {
		t.Fatalf("expected acknowledged status, got %s", acked.Status)
	}
	if acked.AcknowledgedUntil == nil {
		t.Fatal("expected acknowledged_until to be set")
	}
	window := time.Until(*acked.AcknowledgedUntil)
	if window < 3*time.Hour+58*time.Minute || window > 4*time.Hour+2*time.Minute {
		t.Fatalf("expected ~4h acknowledgement window, got %v", window)
	}

	// Zero hours falls back to the 4-hour default window.
	acked, err = ledger.Acknowledge(ctx, alert.ID, 0)
	if err != nil {
		t.Fatalf("acknowledge default: %v", err)
	}
	window = time.Until(*acked.AcknowledgedUntil)
	if window < 3*time.Hour+58*time.Minute || window > 4*time.Hour+2*time.Minute {
		t.Fatalf("expected default 4h window, got %v", window)
	}

	missing, err := ledger.Acknowledge(ctx, 9999, 4)
	if err != nil {
		t.Fatalf("acknowledge missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown alert, got %+v", missing)
	}
}

func TestAlertRemediationTransitions(t *testing.T) {
	ledger := openTestDB(t)
	ctx := context.Background()

	alert, _, err := ledger.UpsertOpen(ctx, UpsertParams{
		Hostname: "host-a", Name: "DiskFull", Kind: models.AlertKindPredictive,
		Severity: models.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := ledger.SetRemediating(ctx, alert.ID, "run-77"); err != nil {
		t.Fatalf("set remediating: %v", err)
	}
	got, err := ledger.Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.AlertStatusRemediating || got.RemediationRunID != "run-77" {
		t.Fatalf("unexpected row after remediation: %+v", got)
	}

	// A remediating alert still counts as the open row for its condition.
	_, created, err := ledger.UpsertOpen(ctx, UpsertParams{
		Hostname: "host-a", Name: "DiskFull", Kind: models.AlertKindPredictive,
		Severity: models.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("upsert while remediating: %v", err)
	}
	if created {
		t.Fatal("expected refresh of remediating alert, not a new row")
	}
	got, _ = ledger.Get(ctx, alert.ID)
	if got.Status != models.AlertStatusRemediating {
		t.Fatalf("expected remediating status preserved, got %s", got.Status)
	}

	if err := ledger.SetNeedsHuman(ctx, alert.ID); err != nil {
		t.Fatalf("set needs_human: %v", err)
	}
	got, _ = ledger.Get(ctx, alert.ID)
	if got.Status != models.AlertStatusNeedsHuman {
		t.Fatalf("expected needs_human, got %s", got.Status)
	}
}

func TestInventoryListAndTouch(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	inventory := NewInventoryRepo(db)
	ctx := context.Background()

	for _, ep := range []*Endpoint{
		{Hostname: "zulu-01", IsActive: true, CriticalityTier: 1},
		{Hostname: "alpha-01", IsActive: true, CriticalityTier: 2},
		{Hostname: "retired-01", IsActive: false},
	} {
		if err := inventory.Upsert(ctx, ep); err != nil {
			t.Fatalf("upsert %s: %v", ep.Hostname, err)
		}
	}

	endpoints, err := inventory.ListActiveEndpoints(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 active endpoints, got %d", len(endpoints))
	}
	if endpoints[0].Hostname != "alpha-01" || endpoints[1].Hostname != "zulu-01" {
		t.Fatalf("expected hostname order, got %s then %s", endpoints[0].Hostname, endpoints[1].Hostname)
	}

	now := time.Now().UTC()
	if err := inventory.TouchLastScanned(ctx, "alpha-01", now); err != nil {
		t.Fatalf("touch: %v", err)
	}
	endpoints, _ = inventory.ListActiveEndpoints(ctx)
	if endpoints[0].LastScannedAt == nil {
		t.Fatal("expected last_scanned_at to be set")
	}
}
