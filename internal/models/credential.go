package models

import (
	"time"

	"gorm.io/gorm"
)

// Состояния доверия устройства на портале.
const (
	DeviceStateNew               = "new"
	DeviceStatePendingValidation = "pending_validation"
	DeviceStateValidated         = "validated"
	DeviceStateInvalid           = "invalid"
)

// ExternalCredential — учётные данные арендатора для одного провайдера.
// Токены и секрет автоматизации храним только в запечатанном виде
// (AES-GCM, см. creds.Box). При ошибке аутентификации запись не
// удаляется, а помечается invalid.
type ExternalCredential struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TenantID string `gorm:"size:64;not null;uniqueIndex:uniq_tenant_provider,priority:1" json:"tenant_id"`
	Provider string `gorm:"size:64;not null;uniqueIndex:uniq_tenant_provider,priority:2" json:"provider"`

	AccessToken      []byte     `gorm:"type:bytea" json:"-"`
	RefreshToken     []byte     `gorm:"type:bytea" json:"-"`
	AutomationSecret []byte     `gorm:"type:bytea" json:"-"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`

	DeviceID          string `gorm:"size:64" json:"device_id"`
	DeviceState       string `gorm:"size:32;not null" json:"device_state"`
	AutomationEnabled bool   `gorm:"index" json:"automation_enabled"`

	LastValidatedAt  *time.Time `json:"last_validated_at,omitempty"`
	LastValidationOK bool       `json:"last_validation_ok"`
}
