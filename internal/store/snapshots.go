package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MentalVibez/fleetdex/internal/models"
)

// SnapshotStore persists telemetry snapshots. Rows are written once and
// never mutated.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore wraps a database handle.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Insert stores a new snapshot for a hostname. Missing numeric readings stay
// NULL, a missing services list is normalised to empty, and the capture
// timestamp is assigned here.
func (s *SnapshotStore) Insert(ctx context.Context, hostname, runID string, reading models.TelemetryReading) (*MetricSnapshot, error) {
	services := reading.ServicesDown
	if services == nil {
		services = []string{}
	}

	snapshot := &MetricSnapshot{
		Hostname:         hostname,
		RunID:            runID,
		CPUPct:           reading.CPUPct,
		MemoryPct:        reading.MemoryPct,
		DiskPct:          reading.DiskPct,
		NetworkLatencyMS: reading.NetworkLatencyMS,
		PacketLossPct:    reading.PacketLossPct,
		ServicesDown:     services,
		LogErrorCount:    reading.LogErrorCount,
		RawOutput:        string(reading.Raw),
	}

	if err := s.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return nil, fmt.Errorf("insert snapshot for %s: %w", hostname, err)
	}
	return snapshot, nil
}

// ListSince returns a hostname's snapshots captured at or after the cutoff,
// oldest first. The ascending order is what the trend regression expects.
func (s *SnapshotStore) ListSince(ctx context.Context, hostname string, cutoff time.Time) ([]MetricSnapshot, error) {
	var snapshots []MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("hostname = ? AND captured_at >= ?", hostname, cutoff).
		Order("captured_at ASC, id ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", hostname, err)
	}
	return snapshots, nil
}

// ListRecent returns up to limit snapshots for a hostname, newest first.
func (s *SnapshotStore) ListRecent(ctx context.Context, hostname string, limit int) ([]MetricSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var snapshots []MetricSnapshot
	err := s.db.WithContext(ctx).
		Where("hostname = ?", hostname).
		Order("captured_at DESC, id DESC").
		Limit(limit).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots for %s: %w", hostname, err)
	}
	return snapshots, nil
}
