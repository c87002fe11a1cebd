package models

import (
	"time"

	"gorm.io/gorm"
)

// Состояния подключения устройства.
const (
	DeviceDisconnected = "disconnected"
	DeviceConnecting   = "connecting"
	DeviceConnected    = "connected"
	DeviceFaulted      = "faulted"
)

type Device struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UUID    string `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	Name    string `gorm:"size:255" json:"name"`
	Address string `gorm:"size:255;not null" json:"address"` // adb serial или host:port
	State   string `gorm:"size:32" json:"state"`

	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
