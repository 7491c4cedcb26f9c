package api

import (
	"net/http"
	"strconv"

	"relist/internal/models"
)

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "tenant_id required", nil)
		return
	}
	unread := q.Get("unread") == "1" || q.Get("unread") == "true"
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	list, err := h.Notifications.List(r.Context(), tenantID, unread, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "bad id", err.Error(), nil)
		return
	}
	if err := h.Notifications.MarkRead(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
