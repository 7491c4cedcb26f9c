package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"relist/internal/models"
	"relist/internal/repo"
)

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repo.JobFilter{Status: q.Get("status"), Limit: 100}

	if v := q.Get("schedule_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "bad request", "schedule_id must be numeric", nil)
			return
		}
		u := uint(id)
		f.ScheduleID = &u
	}
	if v := q.Get("listing_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "bad request", "listing_id must be numeric", nil)
			return
		}
		u := uint(id)
		f.ListingID = &u
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				models.WriteProblem(w, http.StatusBadRequest, "bad request", name+" must be RFC3339", nil)
				return
			}
			*dst = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			f.Limit = n
		}
	}

	jobs, err := h.Jobs.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, jobs)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "job not found", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, job)
}

// CancelJob отменяет pending-задачу; running не отменяется — внешний
// вызов уже мог уйти на портал.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.Jobs.Cancel(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		// отличаем «нет такой задачи» от «уже не pending»
		if job, gerr := h.Jobs.Get(r.Context(), id); gerr == nil && job != nil {
			detail := "job is already running"
			if job.Terminal() {
				detail = "job already finished with status " + job.Status
			}
			models.WriteProblem(w, http.StatusConflict, "conflict", detail, nil)
			return
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JobStats — счётчики по статусам и доля успешных за окно ?days=N.
func (h *Handler) JobStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			models.WriteProblem(w, http.StatusBadRequest, "bad request", "days must be 1..365", nil)
			return
		}
		days = n
	}
	stats, err := h.Jobs.Stats(r.Context(), h.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, stats)
}
