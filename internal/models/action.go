package models

import "time"

// Исходы действия.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// ActionRecord — append-only журнал выполненных действий. Пишут движок
// и планировщик, читает только внешний API. Не мутируется.
type ActionRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	DeviceUUID string `gorm:"index;size:64;not null" json:"device_uuid"`
	Username   string `gorm:"index;size:128" json:"username"`
	Kind       string `gorm:"size:64;not null" json:"kind"`
	Outcome    string `gorm:"size:32" json:"outcome"`
	Detail     string `gorm:"size:1024" json:"detail,omitempty"`
}
