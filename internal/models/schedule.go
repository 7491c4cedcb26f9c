package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScheduleDefinition описывает, когда и какие листинги переопубликовать.
// Два взаимоисключающих стиля: маска дней недели (Weekdays непустой,
// FrequencyDays игнорируется) либо интервал в днях (FrequencyDays >= 1).
// Инвариант: сразу после каждой обработки NextRunAt строго в будущем.
type ScheduleDefinition struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	TenantID string `gorm:"size:64;index;not null" json:"tenant_id"`
	Name     string `gorm:"size:255;not null" json:"name"`

	TimeOfDay     string         `gorm:"size:5;not null" json:"time_of_day"` // "15:04"
	FrequencyDays int            `gorm:"default:1" json:"frequency_days"`
	Weekdays      datatypes.JSON `gorm:"type:jsonb" json:"weekdays,omitempty"` // []int, 0=вс..6=сб
	Active        bool           `gorm:"index" json:"active"`

	NextRunAt time.Time  `gorm:"index" json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	Targets []ScheduleTarget `gorm:"constraint:OnDelete:CASCADE" json:"targets,omitempty"`
}

// ScheduleTarget — привязка листинга к расписанию.
type ScheduleTarget struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	ScheduleID uint `gorm:"not null;uniqueIndex:uniq_sched_listing,priority:1" json:"schedule_id"`
	ListingID  uint `gorm:"not null;uniqueIndex:uniq_sched_listing,priority:2" json:"listing_id"`
}

func (s *ScheduleDefinition) WeekdayMask() ([]time.Weekday, error) {
	if len(s.Weekdays) == 0 {
		return nil, nil
	}
	var raw []int
	if err := json.Unmarshal(s.Weekdays, &raw); err != nil {
		return nil, err
	}
	out := make([]time.Weekday, 0, len(raw))
	for _, d := range raw {
		out = append(out, time.Weekday(d%7))
	}
	return out, nil
}
