package models

import (
	"time"

	"gorm.io/datatypes"
)

// Статусы одиночной задачи.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
	TaskAbandoned = "abandoned"
)

// Task — одиночное действие вне полной сессии движка.
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UUID       string `gorm:"uniqueIndex;size:64;not null" json:"uuid"`
	DeviceUUID string `gorm:"index;size:64;not null" json:"device_uuid"`
	IdentityID uint   `gorm:"index" json:"identity_id"`
	Kind       string `gorm:"size:64;not null" json:"kind"`

	Params datatypes.JSON `json:"params,omitempty"`

	Priority   int    `json:"priority"` // больше — раньше
	RetryCount int    `json:"retry_count"`
	Status     string `gorm:"index;size:32" json:"status"`
	LastError  string `gorm:"size:1024" json:"last_error,omitempty"`
}
