package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"relist/internal/models"
)

// Токены наружу не отдаются никогда — только состояние устройства и
// сроки. Поверхность работает поверх creds.Manager.

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider,omitempty"` // пусто — провайдер по умолчанию
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) StartLogin(w http.ResponseWriter, r *http.Request) {
	var q loginRequest
	if !decode(w, r, &q) {
		return
	}
	if q.TenantID == "" || q.Email == "" || q.Password == "" {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "tenant_id, email, password required", nil)
		return
	}
	provider := q.Provider
	if provider == "" {
		provider = h.Provider
	}

	res, err := h.Creds.StartLogin(r.Context(), q.TenantID, provider, q.Email, q.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) ConfirmLogin(w http.ResponseWriter, r *http.Request) {
	var q struct {
		SessionID string `json:"session_id"`
		Code      string `json:"code"`
	}
	if !decode(w, r, &q) {
		return
	}
	if q.SessionID == "" || q.Code == "" {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "session_id and code required", nil)
		return
	}
	if err := h.Creds.ConfirmCode(r.Context(), q.SessionID, q.Code); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, models.SyncResult{Success: true, Message: "device validated"})
}

type credentialView struct {
	Provider          string  `json:"provider"`
	DeviceState       string  `json:"device_state"`
	AutomationEnabled bool    `json:"automation_enabled"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	LastValidatedAt   *string `json:"last_validated_at,omitempty"`
	LastValidationOK  bool    `json:"last_validation_ok"`
}

func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "tenant_id required", nil)
		return
	}
	provider := mux.Vars(r)["provider"]

	c, err := h.Creds.Store.Get(r.Context(), tenantID, provider)
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		models.WriteProblem(w, http.StatusNotFound, "not found", "no credential for provider", nil)
		return
	}

	view := credentialView{
		Provider:          c.Provider,
		DeviceState:       c.DeviceState,
		AutomationEnabled: c.AutomationEnabled,
		LastValidationOK:  c.LastValidationOK,
	}
	if c.ExpiresAt != nil {
		s := c.ExpiresAt.UTC().Format(time.RFC3339)
		view.ExpiresAt = &s
	}
	if c.LastValidatedAt != nil {
		s := c.LastValidatedAt.UTC().Format(time.RFC3339)
		view.LastValidatedAt = &s
	}
	models.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) SetAutomation(w http.ResponseWriter, r *http.Request) {
	var q struct {
		TenantID string `json:"tenant_id"`
		Enabled  bool   `json:"enabled"`
		Secret   string `json:"secret,omitempty"`
	}
	if !decode(w, r, &q) {
		return
	}
	if q.TenantID == "" {
		models.WriteProblem(w, http.StatusBadRequest, "bad request", "tenant_id required", nil)
		return
	}
	provider := mux.Vars(r)["provider"]

	var err error
	if q.Enabled {
		if q.Secret == "" {
			models.WriteProblem(w, http.StatusBadRequest, "bad request", "secret required to enable automation", nil)
			return
		}
		err = h.Creds.EnableAutomation(r.Context(), q.TenantID, provider, q.Secret)
	} else {
		err = h.Creds.DisableAutomation(r.Context(), q.TenantID, provider)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
