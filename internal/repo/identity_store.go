package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"flock/internal/models"
)

type IdentityStore struct{ db *gorm.DB }

func NewIdentityStore(db *gorm.DB) *IdentityStore { return &IdentityStore{db: db} }

// ListEnabledForDevice — кандидаты на устройство, по возрастанию id:
// порядок важен для детерминированного разруливания пересекающихся окон.
func (s *IdentityStore) ListEnabledForDevice(ctx context.Context, deviceUUID string) ([]models.Identity, error) {
	var ids []models.Identity
	if err := s.db.WithContext(ctx).
		Where("device_uuid = ? AND enabled = ?", deviceUUID, true).
		Order("id asc").
		Find(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *IdentityStore) GetByID(ctx context.Context, id uint) (*models.Identity, error) {
	var ident models.Identity
	err := s.db.WithContext(ctx).First(&ident, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

func (s *IdentityStore) List(ctx context.Context) ([]models.Identity, error) {
	var ids []models.Identity
	if err := s.db.WithContext(ctx).Order("id asc").Find(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
