package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AuditStatusPending    = "pending"
	AuditStatusInProgress = "in_progress"
	AuditStatusCompleted  = "completed"
	AuditStatusFailed     = "failed"
)

// SyncAudit — журнал одной операции синхронизации. Backup снимается
// до любого разрушающего действия на портале, чтобы оставалась
// возможность ручного восстановления (original vs new remote id,
// шаг, на котором упали).
type SyncAudit struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ListingID uint   `gorm:"index;not null" json:"listing_id"`
	Status    string `gorm:"size:16;index;not null" json:"status"`

	Backup           datatypes.JSON `gorm:"type:jsonb" json:"backup,omitempty"` // снимок листинга до операции
	OriginalRemoteID string         `gorm:"size:128" json:"original_remote_id,omitempty"`
	NewRemoteID      string         `gorm:"size:128" json:"new_remote_id,omitempty"`

	Step         string     `gorm:"size:32" json:"step,omitempty"` // update|lookup|update_discovered|create|delete
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
