package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"relist/internal/models"
	"relist/internal/scheduler"
)

type scheduleRequest struct {
	TenantID      string `json:"tenant_id"`
	Name          string `json:"name"`
	TimeOfDay     string `json:"time_of_day"` // "15:04", UTC
	FrequencyDays int    `json:"frequency_days"`
	Weekdays      []int  `json:"weekdays,omitempty"` // 0=вс..6=сб
	Active        *bool  `json:"active,omitempty"`
}

func (q *scheduleRequest) validate() string {
	if q.TenantID == "" {
		return "tenant_id required"
	}
	if q.Name == "" {
		return "name required"
	}
	if _, err := time.Parse("15:04", q.TimeOfDay); err != nil {
		return "time_of_day must be HH:MM"
	}
	for _, d := range q.Weekdays {
		if d < 0 || d > 6 {
			return "weekdays must be 0..6"
		}
	}
	// стили взаимоисключающие: маска задана — интервал игнорируется
	if len(q.Weekdays) == 0 && q.FrequencyDays < 1 {
		return "frequency_days must be >= 1 when weekdays empty"
	}
	return ""
}

func (q *scheduleRequest) apply(s *models.ScheduleDefinition) error {
	s.TenantID = q.TenantID
	s.Name = q.Name
	s.TimeOfDay = q.TimeOfDay
	s.FrequencyDays = q.FrequencyDays
	if s.FrequencyDays < 1 {
		s.FrequencyDays = 1
	}
	s.Active = q.Active == nil || *q.Active
	if len(q.Weekdays) > 0 {
		raw, err := json.Marshal(q.Weekdays)
		if err != nil {
			return err
		}
		s.Weekdays = raw
	} else {
		s.Weekdays = nil
	}
	return nil
}

func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var q scheduleRequest
	if !decode(w, r, &q) {
		return
	}
	if msg := q.validate(); msg != "" {
		models.WriteProblem(w, http.StatusBadRequest, "invalid schedule", msg, nil)
		return
	}

	s := &models.ScheduleDefinition{}
	if err := q.apply(s); err != nil {
		writeError(w, err)
		return
	}
	next, err := scheduler.NextRun(s, h.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	s.NextRunAt = next

	if err := h.Schedules.Create(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, s)
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.Schedules.List(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	s, err := h.Schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "schedule not found", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	var q scheduleRequest
	if !decode(w, r, &q) {
		return
	}
	if msg := q.validate(); msg != "" {
		models.WriteProblem(w, http.StatusBadRequest, "invalid schedule", msg, nil)
		return
	}

	s, err := h.Schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "schedule not found", nil)
		return
	}
	if err := q.apply(s); err != nil {
		writeError(w, err)
		return
	}
	// правка расписания пересчитывает следующий запуск
	next, err := scheduler.NextRun(s, h.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	s.NextRunAt = next

	if err := h.Schedules.Update(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, s)
}

// DeleteSchedule снимает расписание вместе с его pending-задачами;
// running не трогаем — они дорабатывают.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	cancelled, err := h.Jobs.CancelForSchedule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Schedules.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "cancelled_jobs": cancelled})
}

func (h *Handler) AddTarget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	var q struct {
		ListingID uint `json:"listing_id"`
	}
	if !decode(w, r, &q) {
		return
	}
	if q.ListingID == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "listing_id required", nil)
		return
	}
	if err := h.Schedules.AddTarget(r.Context(), id, q.ListingID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RemoveTarget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	listingID, err := pathID(r, "listingID")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	if err := h.Schedules.RemoveTarget(r.Context(), id, listingID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunSchedule ставит задачи по всем целям расписания немедленно, в
// обход времени запуска. Листинги с активной задачей пропускаются.
func (h *Handler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	s, err := h.Schedules.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "schedule not found", nil)
		return
	}
	targets, err := h.Schedules.TargetListingIDs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.Now().UTC()
	created, skipped := 0, 0
	for _, listingID := range targets {
		job := &models.RefreshJob{
			ID:          uuid.NewString(),
			ListingID:   listingID,
			ScheduleID:  &id,
			Status:      models.JobStatusPending,
			JobType:     models.JobTypeManual,
			ScheduledAt: now,
		}
		if err := h.Jobs.CreateIfIdle(r.Context(), job); err != nil {
			skipped++
			continue
		}
		created++
	}
	models.WriteJSON(w, http.StatusAccepted, map[string]int{"created": created, "skipped": skipped})
}

// StopSchedule отменяет pending-задачи расписания.
func (h *Handler) StopSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	cancelled, err := h.Jobs.CancelForSchedule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]int64{"cancelled": cancelled})
}
