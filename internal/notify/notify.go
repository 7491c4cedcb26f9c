// Package notify — контракт исходящих событий жизненного цикла.
// Механика доставки (email/push/webhook) вне ядра: события пишутся в
// хранилище и видны через API, молча не теряются.
package notify

import (
	"context"
	"encoding/json"

	"relist/internal/logs"
	"relist/internal/models"
)

// Типы событий жизненного цикла учётных данных и синхронизации.
const (
	TypeTokenExpiring      = "token_expiring"
	TypeTokenExpired       = "token_expired"
	TypeRenewalSuccess     = "renewal_success"
	TypeRenewalFailed      = "renewal_failed"
	TypeCredentialsInvalid = "credentials_invalid"
	TypeAutomationDisabled = "automation_disabled"
	TypeRateLimited        = "rate_limited"
	TypeNetworkError       = "network_error"
)

type Event struct {
	TenantID string
	Type     string
	Title    string
	Message  string
	Severity string // models.SeverityInfo|Warning|Critical
	Metadata map[string]any
}

type Store interface {
	Create(ctx context.Context, n *models.Notification) error
}

type Emitter struct{ store Store }

func New(store Store) *Emitter { return &Emitter{store: store} }

// Emit сохраняет событие. Ошибка записи не роняет вызывающий поток —
// только громкий лог (событие важнее процесса, но не наоборот).
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if ev.Severity == "" {
		ev.Severity = models.SeverityInfo
	}
	n := &models.Notification{
		TenantID: ev.TenantID,
		Type:     ev.Type,
		Title:    ev.Title,
		Message:  ev.Message,
		Severity: ev.Severity,
	}
	if len(ev.Metadata) > 0 {
		if raw, err := json.Marshal(ev.Metadata); err == nil {
			n.Metadata = raw
		}
	}
	if err := e.store.Create(ctx, n); err != nil {
		logs.Logger.Errorf("notify: drop %s for tenant=%s: %v", ev.Type, ev.TenantID, err)
	}
}
