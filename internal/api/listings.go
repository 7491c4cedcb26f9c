package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"relist/internal/models"
)

// Листинговая поверхность минимальна: ровно то, что нужно циклу
// синхронизации (создать, посмотреть, разово синхронизировать,
// удалить вместе с удалённой копией, журнал операций).

type listingRequest struct {
	TenantID   string   `json:"tenant_id"`
	ExternalID string   `json:"external_id"`
	Title      string   `json:"title"`
	Media      []string `json:"media,omitempty"` // исходные url файлов
}

func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var q listingRequest
	if !decode(w, r, &q) {
		return
	}
	if q.TenantID == "" || q.ExternalID == "" {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "tenant_id and external_id required", nil)
		return
	}

	if dup, err := h.Listings.GetByExternalID(r.Context(), q.TenantID, q.ExternalID); err != nil {
		writeError(w, err)
		return
	} else if dup != nil {
		models.WriteProblem(w, http.StatusConflict, "duplicate listing",
			"external_id already exists for tenant", map[string]uint{"id": dup.ID})
		return
	}

	l := &models.Listing{
		TenantID:   q.TenantID,
		ExternalID: q.ExternalID,
		Title:      q.Title,
		Status:     models.ListingStatusDraft,
	}
	if len(q.Media) > 0 {
		assets := make([]models.MediaAsset, 0, len(q.Media))
		for _, u := range q.Media {
			assets = append(assets, models.MediaAsset{URL: u})
		}
		raw, err := json.Marshal(assets)
		if err != nil {
			writeError(w, err)
			return
		}
		l.Media = raw
	}
	if err := h.Listings.Create(r.Context(), l); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, l)
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	l, err := h.Listings.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if l == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "listing not found", nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, l)
}

// SyncListing ставит разовую задачу синхронизации. 409, если у
// листинга уже есть активная задача.
func (h *Handler) SyncListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	l, err := h.Listings.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if l == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "listing not found", nil)
		return
	}

	job := &models.RefreshJob{
		ID:          uuid.NewString(),
		ListingID:   id,
		Status:      models.JobStatusPending,
		JobType:     models.JobTypeManual,
		ScheduledAt: h.Now().UTC(),
	}
	if err := h.Jobs.CreateIfIdle(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusAccepted, job)
}

// DeleteListing удаляет листинг на портале и локально (в этом порядке).
// При расхождении локальная запись остаётся, клиент получает 409.
func (h *Handler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	if err := h.Reconciler.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.SyncResult{Success: true, Message: "listing deleted"})
}

func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	audits, err := h.Audits.ListForListing(r.Context(), id, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, audits)
}
