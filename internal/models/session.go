package models

import (
	"time"
)

// Статусы сессии. Инвариант системы: на устройство — не более одной
// сессии в статусе running одновременно.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionAborted   = "aborted"
)

// Session — один непрерывный прогон движка для пары (устройство, аккаунт).
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeviceUUID string `gorm:"index;size:64;not null" json:"device_uuid"`
	IdentityID uint   `gorm:"index" json:"identity_id"`
	Username   string `gorm:"index;size:128" json:"username"`

	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	ActionsPerformed int        `json:"actions_performed"`
	ErrorsCount      int        `json:"errors_count"`
	Status           string     `gorm:"index;size:32" json:"status"`
	FaultClass       string     `gorm:"size:64" json:"fault_class,omitempty"` // пусто, если завершилась штатно
}
