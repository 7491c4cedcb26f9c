package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Notification — исходящее событие жизненного цикла для арендатора.
// Сама доставка (email/push) вне ядра, здесь только контракт.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TenantID string `gorm:"size:64;index;not null" json:"tenant_id"`
	Type     string `gorm:"size:64;index;not null" json:"type"`
	Title    string `gorm:"size:255" json:"title"`
	Message  string `gorm:"type:text" json:"message"`
	Severity string `gorm:"size:16" json:"severity"`

	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	Read     bool           `gorm:"index" json:"read"`
}
