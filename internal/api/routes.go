// Package api — HTTP-поверхность сервиса: расписания, очередь задач,
// учётные данные портала, уведомления и ручной запуск синхронизации.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"relist/internal/controller"
	"relist/internal/creds"
	"relist/internal/models"
	"relist/internal/portal"
	"relist/internal/repo"
)

type Handler struct {
	Listings      *repo.ListingStore
	Schedules     *repo.ScheduleStore
	Jobs          *repo.JobStore
	Audits        *repo.AuditStore
	Notifications *repo.NotificationStore

	Creds      *creds.Manager
	Reconciler *controller.Reconciler
	Provider   string

	Now func() time.Time
}

func RegisterRoutes(r *mux.Router, h *Handler) {
	if h.Now == nil {
		h.Now = time.Now
	}
	s := r.PathPrefix("/api/v1").Subrouter()

	s.HandleFunc("/schedules", h.CreateSchedule).Methods(http.MethodPost)
	s.HandleFunc("/schedules", h.ListSchedules).Methods(http.MethodGet)
	s.HandleFunc("/schedules/{id:[0-9]+}", h.GetSchedule).Methods(http.MethodGet)
	s.HandleFunc("/schedules/{id:[0-9]+}", h.UpdateSchedule).Methods(http.MethodPut)
	s.HandleFunc("/schedules/{id:[0-9]+}", h.DeleteSchedule).Methods(http.MethodDelete)
	s.HandleFunc("/schedules/{id:[0-9]+}/targets", h.AddTarget).Methods(http.MethodPost)
	s.HandleFunc("/schedules/{id:[0-9]+}/targets/{listingID:[0-9]+}", h.RemoveTarget).Methods(http.MethodDelete)
	s.HandleFunc("/schedules/{id:[0-9]+}/run", h.RunSchedule).Methods(http.MethodPost)
	s.HandleFunc("/schedules/{id:[0-9]+}/stop", h.StopSchedule).Methods(http.MethodPost)

	s.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	s.HandleFunc("/jobs/stats", h.JobStats).Methods(http.MethodGet)
	s.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	s.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods(http.MethodPost)

	s.HandleFunc("/listings", h.CreateListing).Methods(http.MethodPost)
	s.HandleFunc("/listings/{id:[0-9]+}", h.GetListing).Methods(http.MethodGet)
	s.HandleFunc("/listings/{id:[0-9]+}", h.DeleteListing).Methods(http.MethodDelete)
	s.HandleFunc("/listings/{id:[0-9]+}/sync", h.SyncListing).Methods(http.MethodPost)
	s.HandleFunc("/listings/{id:[0-9]+}/audits", h.ListAudits).Methods(http.MethodGet)

	s.HandleFunc("/credentials/login", h.StartLogin).Methods(http.MethodPost)
	s.HandleFunc("/credentials/confirm", h.ConfirmLogin).Methods(http.MethodPost)
	s.HandleFunc("/credentials/{provider}", h.GetCredential).Methods(http.MethodGet)
	s.HandleFunc("/credentials/{provider}/automation", h.SetAutomation).Methods(http.MethodPut)

	s.HandleFunc("/notifications", h.ListNotifications).Methods(http.MethodGet)
	s.HandleFunc("/notifications/{id:[0-9]+}/read", h.MarkNotificationRead).Methods(http.MethodPost)
}

// ---- общие хелперы ----

func pathID(r *http.Request, name string) (uint, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	return uint(v), err
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", err.Error(), nil)
		return false
	}
	return true
}

// writeError переводит ошибку в problem+json со статусом по классу,
// classification кладётся в extra — вызывающие ветвятся по нему.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	title := "internal error"
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, creds.ErrNoCredential), portal.IsNotFound(err):
		status, title = http.StatusNotFound, "not found"
	case errors.Is(err, creds.ErrSessionNotFound):
		status, title = http.StatusNotFound, "auth session not found"
	case errors.Is(err, repo.ErrJobActive):
		status, title = http.StatusConflict, "job already active"
	case portal.IsAuth(err):
		status, title = http.StatusUnauthorized, "portal authentication failed"
	case portal.IsRateLimited(err):
		status, title = http.StatusTooManyRequests, "portal rate limited"
	case portal.IsBusinessRule(err):
		status, title = http.StatusUnprocessableEntity, "portal rejected request"
	case portal.IsTransient(err):
		status, title = http.StatusBadGateway, "portal unavailable"
	default:
		var ce *portal.ConsistencyError
		if errors.As(err, &ce) {
			status, title = http.StatusConflict, "state divergence"
		}
	}
	models.WriteProblem(w, status, title, err.Error(), map[string]string{
		"classification": portal.Classification(err),
	})
}
