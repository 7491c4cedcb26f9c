package models

import "time"

// Статусы задачи. pending/running — активные, остальные терминальные.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	JobTypeManual    = "manual"
	JobTypeScheduled = "scheduled"
)

// RefreshJob — одна попытка синхронизации одного листинга.
// Инвариант: на момент создания у листинга нет другой задачи в
// pending/running. Терминальные статусы финальны, retry — всегда
// новая задача.
type RefreshJob struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"` // uuid
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ListingID  uint  `gorm:"index;not null" json:"listing_id"`
	ScheduleID *uint `gorm:"index" json:"schedule_id,omitempty"`

	Status  string `gorm:"size:16;index;not null" json:"status"`
	JobType string `gorm:"size:16;not null" json:"job_type"`

	ScheduledAt  time.Time  `gorm:"index;not null" json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
}

// Terminal сообщает, достигла ли задача финального статуса.
func (j *RefreshJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
