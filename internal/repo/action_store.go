package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"flock/internal/models"
)

type ActionStore struct{ db *gorm.DB }

func NewActionStore(db *gorm.DB) *ActionStore { return &ActionStore{db: db} }

func (s *ActionStore) Record(ctx context.Context, rec *models.ActionRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// CountToday — дневной лимит считается датированным запросом,
// «сброс в полночь» получается сам собой.
func (s *ActionStore) CountToday(ctx context.Context, deviceUUID, username, kind string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ActionRecord{}).
		Where("device_uuid = ? AND username = ? AND kind = ? AND outcome = ? AND created_at >= ?",
			deviceUUID, username, kind, models.OutcomeOK, midnight()).
		Count(&n).Error
	return n, err
}

func (s *ActionStore) CountDeviceToday(ctx context.Context, deviceUUID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.ActionRecord{}).
		Where("device_uuid = ? AND outcome = ? AND created_at >= ?",
			deviceUUID, models.OutcomeOK, midnight()).
		Count(&n).Error
	return n, err
}

func midnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
