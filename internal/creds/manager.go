// Package creds — жизненный цикл учётных данных портала: машина
// состояний устройства (new → pending_validation → validated, любое →
// invalid при отказе аутентификации) и фоновое продление токенов.
package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"relist/internal/logs"
	"relist/internal/models"
	"relist/internal/notify"
	"relist/internal/portal"
)

var ErrNoCredential = errors.New("no credential for tenant/provider")

// Store — персистентность учёток (см. repo.CredentialStore).
type Store interface {
	Get(ctx context.Context, tenantID, provider string) (*models.ExternalCredential, error)
	Create(ctx context.Context, c *models.ExternalCredential) error
	UpdateTokens(ctx context.Context, id uint, access, refresh []byte, expiresAt, validatedAt time.Time) error
	SetDeviceState(ctx context.Context, id uint, state string, validationOK bool) error
	SetAutomation(ctx context.Context, id uint, enabled bool, secret []byte) error
	ListAutomationEnabled(ctx context.Context) ([]models.ExternalCredential, error)
	ListExpiringManual(ctx context.Context, before time.Time) ([]models.ExternalCredential, error)
}

// Portal — нужные менеджеру вызовы внешнего API.
type Portal interface {
	Login(ctx context.Context, in portal.Credentials) (*portal.LoginResult, error)
	ConfirmLogin(ctx context.Context, state, code string) (*portal.TokenSet, error)
	RenewToken(ctx context.Context, in portal.RenewInput) (*portal.TokenSet, error)
}

type Notifier interface {
	Emit(ctx context.Context, ev notify.Event)
}

// Исходы одного прохода продления по учётке.
type Outcome string

const (
	OutcomeSkipped     Outcome = "skipped"
	OutcomeRenewed     Outcome = "renewed"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTransient   Outcome = "transient"
	OutcomeFailed      Outcome = "failed"
)

type Manager struct {
	Store    Store
	Sessions SessionStore
	Portal   Portal
	Box      *Box
	Notifier Notifier

	Now            func() time.Time
	RenewThreshold time.Duration // продлеваем, когда до expires_at меньше порога
	SessionTTL     time.Duration
	RateRetryDelay time.Duration // единичный отложенный повтор при rate limit
	NetRetryDelay  time.Duration // и при сетевом сбое

	mu             sync.Mutex
	retryScheduled map[uint]bool
	warnedExpiring map[uint]time.Time // id → expires_at, о котором уже предупредили
}

func NewManager(store Store, sessions SessionStore, p Portal, box *Box, notifier Notifier) *Manager {
	return &Manager{
		Store:          store,
		Sessions:       sessions,
		Portal:         p,
		Box:            box,
		Notifier:       notifier,
		Now:            time.Now,
		RenewThreshold: 24 * time.Hour,
		SessionTTL:     15 * time.Minute,
		RateRetryDelay: 30 * time.Minute,
		NetRetryDelay:  5 * time.Minute,
		retryScheduled: make(map[uint]bool),
		warnedExpiring: make(map[uint]time.Time),
	}
}

// ---- login / challenge ----

type StartLoginResult struct {
	Validated bool   `json:"validated"`            // устройство уже доверенное, токены получены
	SessionID string `json:"session_id,omitempty"` // иначе — ждём код
	Delivery  string `json:"delivery,omitempty"`
}

// sessionPayload хранится в SessionStore между start и confirm.
type sessionPayload struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
	State    string `json:"state"` // транспортное состояние портала, непрозрачное
}

// StartLogin начинает вход арендатора. Незнакомое устройство получает
// challenge (портал шлёт код out-of-band), доверенное — сразу токены.
func (m *Manager) StartLogin(ctx context.Context, tenantID, provider, email, password string) (*StartLoginResult, error) {
	cred, err := m.Store.Get(ctx, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		cred = &models.ExternalCredential{
			TenantID:    tenantID,
			Provider:    provider,
			DeviceID:    uuid.NewString(),
			DeviceState: models.DeviceStateNew,
		}
		if err := m.Store.Create(ctx, cred); err != nil {
			return nil, err
		}
	}

	res, err := m.Portal.Login(ctx, portal.Credentials{
		Email:    email,
		Password: password,
		DeviceID: cred.DeviceID,
	})
	if err != nil {
		if portal.IsAuth(err) {
			// только auth-отказ роняет состояние; транзиент уходит
			// наверх без изменений и повторяется вызывающим
			_ = m.Store.SetDeviceState(ctx, cred.ID, models.DeviceStateInvalid, false)
		}
		return nil, err
	}

	// устройство уже доверенное — challenge пропущен целиком
	if res.Tokens != nil {
		if err := m.storeTokens(ctx, cred.ID, res.Tokens); err != nil {
			return nil, err
		}
		return &StartLoginResult{Validated: true}, nil
	}

	if res.Challenge == nil {
		return nil, fmt.Errorf("portal login: neither tokens nor challenge")
	}

	if err := m.Store.SetDeviceState(ctx, cred.ID, models.DeviceStatePendingValidation, false); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sessionPayload{TenantID: tenantID, Provider: provider, State: res.Challenge.State})
	if err != nil {
		return nil, err
	}
	sid := uuid.NewString()
	if err := m.Sessions.Put(ctx, sid, string(raw), m.SessionTTL); err != nil {
		return nil, err
	}
	return &StartLoginResult{SessionID: sid, Delivery: res.Challenge.Delivery}, nil
}

// ConfirmCode завершает challenge. Неизвестная/протухшая сессия — явная
// ошибка, состояние учётки не меняется.
func (m *Manager) ConfirmCode(ctx context.Context, sessionID, code string) error {
	raw, err := m.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	var p sessionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("auth session corrupted: %w", err)
	}
	cred, err := m.Store.Get(ctx, p.TenantID, p.Provider)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoCredential
	}

	ts, err := m.Portal.ConfirmLogin(ctx, p.State, code)
	if err != nil {
		if portal.IsAuth(err) {
			_ = m.Store.SetDeviceState(ctx, cred.ID, models.DeviceStateInvalid, false)
		}
		return err
	}
	if err := m.storeTokens(ctx, cred.ID, ts); err != nil {
		return err
	}
	// сессия одноразовая
	_ = m.Sessions.Delete(ctx, sessionID)
	return nil
}

// EnableAutomation сохраняет запечатанный секрет автоматизации для
// фонового продления; выключение — секрет затирать не обязательно.
func (m *Manager) EnableAutomation(ctx context.Context, tenantID, provider, secret string) error {
	cred, err := m.Store.Get(ctx, tenantID, provider)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoCredential
	}
	sealed, err := m.Box.SealString(secret)
	if err != nil {
		return err
	}
	return m.Store.SetAutomation(ctx, cred.ID, true, sealed)
}

func (m *Manager) DisableAutomation(ctx context.Context, tenantID, provider string) error {
	cred, err := m.Store.Get(ctx, tenantID, provider)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoCredential
	}
	if err := m.Store.SetAutomation(ctx, cred.ID, false, nil); err != nil {
		return err
	}
	m.Notifier.Emit(ctx, notify.Event{
		TenantID: tenantID,
		Type:     notify.TypeAutomationDisabled,
		Title:    "Automation disabled",
		Message:  fmt.Sprintf("token auto-renewal disabled for %s", provider),
		Severity: models.SeverityInfo,
	})
	return nil
}

// AccessToken отдаёт распечатанный access token для вызовов портала.
func (m *Manager) AccessToken(ctx context.Context, tenantID, provider string) (string, error) {
	cred, err := m.Store.Get(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", ErrNoCredential
	}
	if cred.DeviceState != models.DeviceStateValidated || len(cred.AccessToken) == 0 {
		return "", &portal.AuthError{Op: "access_token", Reason: "credential not validated"}
	}
	return m.Box.OpenString(cred.AccessToken)
}

func (m *Manager) storeTokens(ctx context.Context, credID uint, ts *portal.TokenSet) error {
	access, err := m.Box.SealString(ts.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := m.Box.SealString(ts.RefreshToken)
	if err != nil {
		return err
	}
	now := m.Now().UTC()
	expires := now.Add(time.Duration(ts.ExpiresIn) * time.Second)
	return m.Store.UpdateTokens(ctx, credID, access, refresh, expires, now)
}

// ---- фоновое продление ----

// SweepRenewals обходит учётки с включённой автоматизацией. Ошибка по
// одной учётке не мешает остальным.
func (m *Manager) SweepRenewals(ctx context.Context) map[uint]Outcome {
	out := make(map[uint]Outcome)
	list, err := m.Store.ListAutomationEnabled(ctx)
	if err != nil {
		logs.Logger.Errorf("renew sweep: list credentials: %v", err)
		return out
	}
	for i := range list {
		c := list[i]
		out[c.ID] = m.renewOne(ctx, c.TenantID, c.Provider, true)
	}
	m.warnExpiringManual(ctx)
	return out
}

// warnExpiringManual зовёт арендатора: токен без автоматизации скоро
// истечёт, продлить его может только повторный вход. На один токен —
// одно предупреждение: повторный вход меняет expires_at и взводит его
// заново.
func (m *Manager) warnExpiringManual(ctx context.Context) {
	list, err := m.Store.ListExpiringManual(ctx, m.Now().UTC().Add(m.RenewThreshold))
	if err != nil {
		logs.Logger.Errorf("renew sweep: list manual credentials: %v", err)
		return
	}
	for i := range list {
		c := &list[i]
		if c.ExpiresAt == nil {
			continue
		}
		m.mu.Lock()
		warned := m.warnedExpiring[c.ID].Equal(*c.ExpiresAt)
		if !warned {
			m.warnedExpiring[c.ID] = *c.ExpiresAt
		}
		m.mu.Unlock()
		if warned {
			continue
		}
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: c.TenantID,
			Type:     notify.TypeTokenExpiring,
			Title:    "Portal token expiring",
			Message:  fmt.Sprintf("%s token expires at %s, re-login required (auto-renewal is off)", c.Provider, c.ExpiresAt.Format(time.RFC3339)),
			Severity: models.SeverityWarning,
		})
	}
}

// renewOne продлевает одну учётку. Перечитывает запись перед работой
// (read-then-merge: параллельный воркер или прошлый повтор могли уже
// обновить токены — тогда no-op).
func (m *Manager) renewOne(ctx context.Context, tenantID, provider string, allowRetry bool) Outcome {
	cred, err := m.Store.Get(ctx, tenantID, provider)
	if err != nil || cred == nil {
		logs.Logger.Errorf("renew: reload %s/%s: %v", tenantID, provider, err)
		return OutcomeFailed
	}
	now := m.Now().UTC()

	// токен ещё свежий — внешних вызовов не делаем
	if cred.ExpiresAt != nil && cred.ExpiresAt.After(now.Add(m.RenewThreshold)) {
		return OutcomeSkipped
	}
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(now) {
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: tenantID,
			Type:     notify.TypeTokenExpired,
			Title:    "Portal token expired",
			Message:  fmt.Sprintf("%s token expired at %s", provider, cred.ExpiresAt.Format(time.RFC3339)),
			Severity: models.SeverityWarning,
		})
	}

	refresh, err := m.Box.OpenString(cred.RefreshToken)
	if err != nil {
		logs.Logger.Errorf("renew: unseal refresh token id=%d: %v", cred.ID, err)
		return OutcomeFailed
	}
	secret, err := m.Box.OpenString(cred.AutomationSecret)
	if err != nil {
		logs.Logger.Errorf("renew: unseal automation secret id=%d: %v", cred.ID, err)
		return OutcomeFailed
	}

	ts, err := m.Portal.RenewToken(ctx, portal.RenewInput{
		DeviceID:         cred.DeviceID,
		RefreshToken:     refresh,
		AutomationSecret: secret,
	})
	switch {
	case err == nil:
		if err := m.storeTokens(ctx, cred.ID, ts); err != nil {
			logs.Logger.Errorf("renew: store tokens id=%d: %v", cred.ID, err)
			return OutcomeFailed
		}
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: tenantID,
			Type:     notify.TypeRenewalSuccess,
			Title:    "Portal token renewed",
			Message:  fmt.Sprintf("%s token renewed, valid %ds", provider, ts.ExpiresIn),
			Severity: models.SeverityInfo,
		})
		return OutcomeRenewed

	case portal.IsAuth(err):
		// отказ аутентификации: учётка в invalid, автоповторов нет
		_ = m.Store.SetDeviceState(ctx, cred.ID, models.DeviceStateInvalid, false)
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: tenantID,
			Type:     notify.TypeCredentialsInvalid,
			Title:    "Portal credentials invalid",
			Message:  fmt.Sprintf("%s rejected stored credentials, re-login required", provider),
			Severity: models.SeverityCritical,
		})
		return OutcomeInvalid

	case portal.IsRateLimited(err):
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: tenantID,
			Type:     notify.TypeRateLimited,
			Title:    "Portal rate limit",
			Message:  fmt.Sprintf("%s renewal rate limited, will retry once", provider),
			Severity: models.SeverityWarning,
		})
		if allowRetry {
			m.scheduleRetry(cred.ID, tenantID, provider, m.RateRetryDelay)
		}
		return OutcomeRateLimited

	case portal.IsTransient(err):
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: tenantID,
			Type:     notify.TypeNetworkError,
			Title:    "Portal unreachable",
			Message:  fmt.Sprintf("%s renewal failed: %v", provider, err),
			Severity: models.SeverityWarning,
		})
		if allowRetry {
			m.scheduleRetry(cred.ID, tenantID, provider, m.NetRetryDelay)
		}
		return OutcomeTransient

	default:
		logs.Logger.Errorf("renew: unexpected error id=%d: %v", cred.ID, err)
		m.Notifier.Emit(ctx, notify.Event{
			TenantID: tenantID,
			Type:     notify.TypeRenewalFailed,
			Title:    "Portal token renewal failed",
			Message:  err.Error(),
			Severity: models.SeverityWarning,
		})
		return OutcomeFailed
	}
}

// scheduleRetry — единичный отложенный повтор; второй не планируется,
// дальше подхватит следующий sweep.
func (m *Manager) scheduleRetry(credID uint, tenantID, provider string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryScheduled[credID] {
		return
	}
	m.retryScheduled[credID] = true
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.retryScheduled, credID)
		m.mu.Unlock()
		m.renewOne(context.Background(), tenantID, provider, false)
	})
}
