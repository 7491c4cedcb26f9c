package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relist/internal/creds"
	"relist/internal/models"
	"relist/internal/portal"
	"relist/internal/repo"
)

func TestWriteErrorMapsTaxonomy(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		status         int
		classification string
	}{
		{"store not found", repo.ErrNotFound, http.StatusNotFound, "unknown"},
		{"portal not found", &portal.NotFoundError{Op: "update", Ref: "R1"}, http.StatusNotFound, "not_found"},
		{"no credential", creds.ErrNoCredential, http.StatusNotFound, "unknown"},
		{"session missing", creds.ErrSessionNotFound, http.StatusNotFound, "unknown"},
		{"active job", repo.ErrJobActive, http.StatusConflict, "unknown"},
		{"auth", &portal.AuthError{Op: "login", Reason: "bad password"}, http.StatusUnauthorized, "authentication"},
		{"rate limited", &portal.RateLimitedError{Op: "renew_token"}, http.StatusTooManyRequests, "rate_limited"},
		{"business rule", &portal.BusinessRuleError{Op: "create", Code: portal.CodePlanLimit}, http.StatusUnprocessableEntity, "business_rule"},
		{"transient", &portal.TransientError{Op: "update", Kind: portal.KindTimeout}, http.StatusBadGateway, "transient"},
		{"divergence", &portal.ConsistencyError{Op: "delete", Detail: "remote survived"}, http.StatusConflict, "consistency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.status, p.Status)
			extra, ok := p.Extra.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.classification, extra["classification"])
		})
	}
}

func TestScheduleRequestValidate(t *testing.T) {
	base := scheduleRequest{TenantID: "t1", Name: "daily", TimeOfDay: "09:30", FrequencyDays: 1}

	assert.Empty(t, base.validate())

	bad := base
	bad.TimeOfDay = "9:30am"
	assert.NotEmpty(t, bad.validate())

	bad = base
	bad.FrequencyDays = 0
	assert.NotEmpty(t, bad.validate(), "interval style needs frequency")

	bad.Weekdays = []int{1, 5}
	assert.Empty(t, bad.validate(), "weekday style ignores frequency")

	bad.Weekdays = []int{7}
	assert.NotEmpty(t, bad.validate())
}
