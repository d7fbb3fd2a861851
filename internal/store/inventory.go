package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// InventoryRepo reads the endpoint inventory and records scan activity.
type InventoryRepo struct {
	db *gorm.DB
}

// NewInventoryRepo wraps a database handle.
func NewInventoryRepo(db *gorm.DB) *InventoryRepo {
	return &InventoryRepo{db: db}
}

// ListActiveEndpoints returns all active endpoints ordered by hostname. The
// stable order keeps scan batches deterministic.
func (r *InventoryRepo) ListActiveEndpoints(ctx context.Context) ([]Endpoint, error) {
	var endpoints []Endpoint
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("hostname ASC").
		Find(&endpoints).Error
	if err != nil {
		return nil, fmt.Errorf("list active endpoints: %w", err)
	}
	return endpoints, nil
}

// ListHostnames returns the hostnames of all active endpoints.
func (r *InventoryRepo) ListHostnames(ctx context.Context) ([]string, error) {
	endpoints, err := r.ListActiveEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	hostnames := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		hostnames = append(hostnames, ep.Hostname)
	}
	return hostnames, nil
}

// TouchLastScanned records the time a hostname was last scanned.
func (r *InventoryRepo) TouchLastScanned(ctx context.Context, hostname string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&Endpoint{}).
		Where("hostname = ?", hostname).
		Update("last_scanned_at", at).Error
	if err != nil {
		return fmt.Errorf("touch last_scanned_at for %s: %w", hostname, err)
	}
	return nil
}

// Upsert creates or updates an endpoint record keyed by hostname. The mock
// inventory loader and tests use this.
func (r *InventoryRepo) Upsert(ctx context.Context, ep *Endpoint) error {
	var existing Endpoint
	err := r.db.WithContext(ctx).Where("hostname = ?", ep.Hostname).First(&existing).Error
	if err == nil {
		ep.ID = existing.ID
		ep.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(ep).Error; err != nil {
			return fmt.Errorf("update endpoint %s: %w", ep.Hostname, err)
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("look up endpoint %s: %w", ep.Hostname, err)
	}
	if err := r.db.WithContext(ctx).Create(ep).Error; err != nil {
		return fmt.Errorf("create endpoint %s: %w", ep.Hostname, err)
	}
	return nil
}
