package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"flock/internal/models"
)

var ErrNotFound = errors.New("not found")

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

type DeviceInput struct {
	Name    string
	Address string
}

// Create регистрирует устройство в инвентаре; адрес уникален по факту
// (два устройства на одном serial — ошибка конфигурации).
func (s *DeviceStore) Create(ctx context.Context, in DeviceInput) (*models.Device, error) {
	if strings.TrimSpace(in.Address) == "" {
		return nil, errors.New("device address is required")
	}
	d := models.Device{
		UUID:    uuid.NewString(),
		Name:    in.Name,
		Address: in.Address,
		State:   models.DeviceDisconnected,
	}
	if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) List(ctx context.Context) ([]models.Device, error) {
	var devs []models.Device
	if err := s.db.WithContext(ctx).Order("id asc").Find(&devs).Error; err != nil {
		return nil, err
	}
	return devs, nil
}

func (s *DeviceStore) GetByUUID(ctx context.Context, deviceUUID string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("uuid = ?", deviceUUID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) UpdateState(ctx context.Context, deviceUUID, state string) error {
	updates := map[string]any{"state": state}
	if state == models.DeviceConnected {
		now := time.Now().UTC()
		updates["last_seen_at"] = &now
	}
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("uuid = ?", deviceUUID).Updates(updates).Error
}
