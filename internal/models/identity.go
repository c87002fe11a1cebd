package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity — учётная запись, которую крутим на устройстве.
// Schedule/Settings/Tags лежат JSON-колонками, наружу отдаём
// типизированные структуры (см. settings.go).
type Identity struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Username   string `gorm:"uniqueIndex;size:128;not null" json:"username"`
	Password   string `gorm:"size:255" json:"-"`
	TOTPSecret string `gorm:"size:128" json:"-"` // base32, пусто — 2FA нет
	AppPackage string `gorm:"size:255" json:"app_package"`

	DeviceUUID string `gorm:"index;size:64" json:"device_uuid"` // закреплённое устройство
	Enabled    bool   `gorm:"default:true" json:"enabled"`

	Schedule datatypes.JSON `json:"schedule"` // [{"start":9,"end":17}]
	Settings datatypes.JSON `json:"settings"` // см. IdentitySettings
	Tags     datatypes.JSON `json:"tags"`     // ["fitness","travel"]
}
