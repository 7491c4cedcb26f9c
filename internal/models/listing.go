package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Статусы листинга относительно внешнего портала.
const (
	ListingStatusDraft      = "draft"
	ListingStatusPublishing = "publishing"
	ListingStatusPublished  = "published"
	ListingStatusError      = "error"
)

// Listing — локальная сущность объявления, синхронизируемая с порталом.
// RemoteID кэшируется после первой успешной публикации и может протухнуть
// на стороне портала (stale pointer) — реконсайлер это лечит.
type Listing struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TenantID   string `gorm:"size:64;not null;uniqueIndex:uniq_tenant_ext,priority:1" json:"tenant_id"`
	ExternalID string `gorm:"size:128;not null;uniqueIndex:uniq_tenant_ext,priority:2" json:"external_id"` // бизнес-ключ на портале
	Title      string `gorm:"size:255" json:"title"`

	RemoteID      string `gorm:"index;size:128" json:"remote_id"`
	Status        string `gorm:"size:32;index" json:"status"`
	StatusMessage string `gorm:"type:text" json:"status_message,omitempty"`

	Media       datatypes.JSON `gorm:"type:jsonb" json:"media,omitempty"` // []MediaAsset
	PublishedAt *time.Time     `json:"published_at,omitempty"`
}

// MediaAsset — один медиа-файл листинга. RemoteURL пустой, пока файл
// не загружен на портал.
type MediaAsset struct {
	URL       string `json:"url"`
	RemoteURL string `json:"remote_url,omitempty"`
}

func (l *Listing) MediaAssets() ([]MediaAsset, error) {
	if len(l.Media) == 0 {
		return nil, nil
	}
	var out []MediaAsset
	if err := json.Unmarshal(l.Media, &out); err != nil {
		return nil, err
	}
	return out, nil
}
