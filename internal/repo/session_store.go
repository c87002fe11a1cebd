package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"flock/internal/models"
)

type SessionStore struct{ db *gorm.DB }

func NewSessionStore(db *gorm.DB) *SessionStore { return &SessionStore{db: db} }

func (s *SessionStore) Open(ctx context.Context, sess *models.Session) error {
	sess.Status = models.SessionRunning
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *SessionStore) Close(ctx context.Context, id uint, status string, actions, errCount int, faultClass string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":            status,
			"ended_at":          &now,
			"actions_performed": actions,
			"errors_count":      errCount,
			"fault_class":       faultClass,
		}).Error
}

func (s *SessionStore) GetRunningForDevice(ctx context.Context, deviceUUID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("device_uuid = ? AND status = ?", deviceUUID, models.SessionRunning).
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
