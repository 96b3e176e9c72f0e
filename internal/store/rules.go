package store

import (
	"context"
	"errors"
	"time"

	"fandesk/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetOrCreateRule returns the user's RMS rule, creating an empty one on
// first access. Limits default to unset; email notifications default on.
func (s *Store) GetOrCreateRule(ctx context.Context, userID uuid.UUID) (model.RmsRule, error) {
	var rule model.RmsRule
	if err := s.guard(); err != nil {
		return rule, err
	}
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rule).Error
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return rule, err
	}
	now := time.Now()
	rule = model.RmsRule{
		ID:          model.NewID(),
		UserID:      userID,
		NotifyEmail: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return rule, err
	}
	return rule, nil
}

func (s *Store) SaveRule(ctx context.Context, rule *model.RmsRule) error {
	if err := s.guard(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(rule).Error
}

// AppendLog writes one audit log entry.
func (s *Store) AppendLog(ctx context.Context, userID uuid.UUID, logType model.LogType, message string) error {
	if err := s.guard(); err != nil {
		return err
	}
	entry := model.LogEntry{
		ID:        model.NewID(),
		UserID:    userID,
		Type:      logType,
		Message:   message,
		CreatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}

func (s *Store) ListLogs(ctx context.Context, userID uuid.UUID, limit int) ([]model.LogEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []model.LogEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
