package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/MentalVibez/fleetdex/internal/events"
	"github.com/MentalVibez/fleetdex/internal/models"
)

// UpsertParams carries the fields of an alert condition being raised or
// refreshed.
type UpsertParams struct {
	Hostname     string
	Name         string
	Kind         models.AlertKind
	Severity     models.Severity
	Message      string
	TimeToImpact string
}

// AlertFilter narrows List results. Zero-valued fields are ignored.
type AlertFilter struct {
	Hostname string
	Kind     models.AlertKind
	Status   models.AlertStatus
	OpenOnly bool
	Limit    int
}

// AlertLedger owns the alert lifecycle: at most one open alert per
// (hostname, alert name, kind), refreshed in place while the condition
// persists and closed when it clears.
type AlertLedger struct {
	db        *gorm.DB
	publisher events.Publisher
	logger    *slog.Logger
}

// NewAlertLedger wraps a database handle. The publisher may be a
// NoopPublisher when no broker is configured.
func NewAlertLedger(db *gorm.DB, publisher events.Publisher, logger *slog.Logger) *AlertLedger {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &AlertLedger{db: db, publisher: publisher, logger: logger}
}

// UpsertOpen raises an alert for the condition or refreshes the existing open
// one. It reports whether a new row was created.
func (l *AlertLedger) UpsertOpen(ctx context.Context, params UpsertParams) (*DexAlert, bool, error) {
	var alert DexAlert
	created := false

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("hostname = ? AND alert_name = ? AND alert_type = ? AND status IN ?",
			params.Hostname, params.Name, params.Kind, models.OpenStatuses()).
			First(&alert).Error
		switch {
		case err == nil:
			// Refresh the existing open alert; a remediating alert keeps
			// its status so a running fix is not forgotten.
			updates := map[string]any{
				"severity":                 params.Severity,
				"message":                  params.Message,
				"predicted_time_to_impact": params.TimeToImpact,
			}
			if err := tx.Model(&alert).Updates(updates).Error; err != nil {
				return fmt.Errorf("refresh alert %d: %w", alert.ID, err)
			}
			alert.Severity = params.Severity
			alert.Message = params.Message
			alert.PredictedTimeToImpact = params.TimeToImpact
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			alert = DexAlert{
				Hostname:              params.Hostname,
				AlertName:             params.Name,
				AlertType:             params.Kind,
				Severity:              params.Severity,
				Message:               params.Message,
				PredictedTimeToImpact: params.TimeToImpact,
				Status:                models.AlertStatusActive,
			}
			if err := tx.Create(&alert).Error; err != nil {
				return fmt.Errorf("create alert for %s: %w", params.Hostname, err)
			}
			created = true
			return nil
		default:
			return fmt.Errorf("look up open alert for %s: %w", params.Hostname, err)
		}
	})
	if err != nil {
		return nil, false, err
	}

	eventType := events.TypeAlertUpdated
	if created {
		eventType = events.TypeAlertCreated
	}
	l.publish(ctx, eventType, &alert)
	return &alert, created, nil
}

// ResolveOpen closes the open alert for a condition, if one exists. It
// reports whether an alert was resolved.
func (l *AlertLedger) ResolveOpen(ctx context.Context, hostname, name string, kind models.AlertKind) (bool, error) {
	var alert DexAlert
	err := l.db.WithContext(ctx).
		Where("hostname = ? AND alert_name = ? AND alert_type = ? AND status IN ?",
			hostname, name, kind, models.OpenStatuses()).
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up open alert for %s: %w", hostname, err)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":      models.AlertStatusResolved,
		"resolved_at": now,
	}
	if err := l.db.WithContext(ctx).Model(&alert).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("resolve alert %d: %w", alert.ID, err)
	}
	alert.Status = models.AlertStatusResolved
	alert.ResolvedAt = &now

	l.publish(ctx, events.TypeAlertResolved, &alert)
	return true, nil
}

// Get fetches an alert by id.
func (l *AlertLedger) Get(ctx context.Context, id uint) (*DexAlert, error) {
	var alert DexAlert
	err := l.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %d: %w", id, err)
	}
	return &alert, nil
}

// List returns alerts matching the filter, newest first.
func (l *AlertLedger) List(ctx context.Context, filter AlertFilter) ([]DexAlert, error) {
	q := l.db.WithContext(ctx).Model(&DexAlert{})
	if filter.Hostname != "" {
		q = q.Where("hostname = ?", filter.Hostname)
	}
	if filter.Kind != "" {
		q = q.Where("alert_type = ?", filter.Kind)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.OpenOnly {
		q = q.Where("status IN ?", models.OpenStatuses())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	var alerts []DexAlert
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// ListForHostnameSince returns all of a hostname's alerts created at or after
// the cutoff, regardless of status. Remediation scoring reads this window.
func (l *AlertLedger) ListForHostnameSince(ctx context.Context, hostname string, cutoff time.Time) ([]DexAlert, error) {
	var alerts []DexAlert
	err := l.db.WithContext(ctx).
		Where("hostname = ? AND created_at >= ?", hostname, cutoff).
		Order("created_at ASC, id ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s: %w", hostname, err)
	}
	return alerts, nil
}

// CountOpen returns the number of open alerts across the fleet.
func (l *AlertLedger) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&DexAlert{}).
		Where("status IN ?", models.OpenStatuses()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count open alerts: %w", err)
	}
	return n, nil
}

// Acknowledge silences an alert for the given number of hours.
func (l *AlertLedger) Acknowledge(ctx context.Context, id uint, hours int) (*DexAlert, error) {
	alert, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, nil
	}

	if hours <= 0 {
		hours = 4
	}
	until := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
	updates := map[string]any{
		"status":             models.AlertStatusAcknowledged,
		"acknowledged_until": until,
	}
	if err := l.db.WithContext(ctx).Model(alert).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("acknowledge alert %d: %w", id, err)
	}
	alert.Status = models.AlertStatusAcknowledged
	alert.AcknowledgedUntil = &until

	l.publish(ctx, events.TypeAlertUpdated, alert)
	return alert, nil
}

// SetRemediating marks an alert as under automated remediation.
func (l *AlertLedger) SetRemediating(ctx context.Context, id uint, runID string) error {
	updates := map[string]any{
		"status":             models.AlertStatusRemediating,
		"remediation_run_id": runID,
	}
	err := l.db.WithContext(ctx).Model(&DexAlert{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark alert %d remediating: %w", id, err)
	}
	return nil
}

// SetNeedsHuman marks an alert as escalated to a human operator.
func (l *AlertLedger) SetNeedsHuman(ctx context.Context, id uint) error {
	err := l.db.WithContext(ctx).Model(&DexAlert{}).Where("id = ?", id).
		Update("status", models.AlertStatusNeedsHuman).Error
	if err != nil {
		return fmt.Errorf("mark alert %d needs_human: %w", id, err)
	}
	return nil
}

func (l *AlertLedger) publish(ctx context.Context, eventType string, alert *DexAlert) {
	ev := events.NewEvent(eventType)
	ev.Hostname = alert.Hostname
	ev.AlertName = alert.AlertName
	ev.AlertKind = string(alert.AlertType)
	ev.Severity = string(alert.Severity)
	ev.Status = string(alert.Status)
	ev.Message = alert.Message
	ev.TimeToImpact = alert.PredictedTimeToImpact

	if err := l.publisher.Publish(ctx, ev); err != nil && l.logger != nil {
		l.logger.Warn("alert event publish failed",
			"type", eventType, "hostname", alert.Hostname, "error", err)
	}
}
