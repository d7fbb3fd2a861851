package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ScoreStore persists composite health scores, one row per scoring run.
type ScoreStore struct {
	db *gorm.DB
}

// NewScoreStore wraps a database handle.
func NewScoreStore(db *gorm.DB) *ScoreStore {
	return &ScoreStore{db: db}
}

// Insert appends a score row for a hostname.
func (s *ScoreStore) Insert(ctx context.Context, score *DexScore) error {
	if err := s.db.WithContext(ctx).Create(score).Error; err != nil {
		return fmt.Errorf("insert score for %s: %w", score.Hostname, err)
	}
	return nil
}

// Latest returns the most recent score for a hostname, or nil when the
// hostname has never been scored.
func (s *ScoreStore) Latest(ctx context.Context, hostname string) (*DexScore, error) {
	var score DexScore
	err := s.db.WithContext(ctx).
		Where("hostname = ?", hostname).
		Order("scored_at DESC, id DESC").
		First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest score for %s: %w", hostname, err)
	}
	return &score, nil
}

// History returns up to limit scores for a hostname, newest first.
func (s *ScoreStore) History(ctx context.Context, hostname string, limit int) ([]DexScore, error) {
	if limit <= 0 {
		limit = 96
	}
	var scores []DexScore
	err := s.db.WithContext(ctx).
		Where("hostname = ?", hostname).
		Order("scored_at DESC, id DESC").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		return nil, fmt.Errorf("score history for %s: %w", hostname, err)
	}
	return scores, nil
}
