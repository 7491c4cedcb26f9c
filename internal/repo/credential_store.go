package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"relist/internal/models"
)

type CredentialStore struct{ db *gorm.DB }

func NewCredentialStore(db *gorm.DB) *CredentialStore { return &CredentialStore{db: db} }

func (s *CredentialStore) Get(ctx context.Context, tenantID, provider string) (*models.ExternalCredential, error) {
	var c models.ExternalCredential
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &c, err
}

func (s *CredentialStore) Create(ctx context.Context, c *models.ExternalCredential) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// UpdateTokens пишет только токены/срок/отметку валидации. Продление и
// воркер могут трогать одну запись параллельно, поэтому никаких
// blind-overwrite всей строки — только целевые поля.
func (s *CredentialStore) UpdateTokens(ctx context.Context, id uint, access, refresh []byte, expiresAt, validatedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.ExternalCredential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token":       access,
			"refresh_token":      refresh,
			"expires_at":         expiresAt,
			"device_state":       models.DeviceStateValidated,
			"last_validated_at":  validatedAt,
			"last_validation_ok": true,
		}).Error
}

// SetDeviceState — переходы машины состояний. invalid никогда не
// удаляет запись.
func (s *CredentialStore) SetDeviceState(ctx context.Context, id uint, state string, validationOK bool) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.ExternalCredential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"device_state":       state,
			"last_validated_at":  now,
			"last_validation_ok": validationOK,
		}).Error
}

func (s *CredentialStore) SetAutomation(ctx context.Context, id uint, enabled bool, secret []byte) error {
	upd := map[string]any{"automation_enabled": enabled}
	if secret != nil {
		upd["automation_secret"] = secret
	}
	return s.db.WithContext(ctx).Model(&models.ExternalCredential{}).
		Where("id = ?", id).
		Updates(upd).Error
}

// ListAutomationEnabled — кандидаты фонового продления токенов.
func (s *CredentialStore) ListAutomationEnabled(ctx context.Context) ([]models.ExternalCredential, error) {
	var out []models.ExternalCredential
	err := s.db.WithContext(ctx).
		Where("automation_enabled = ? AND device_state = ?", true, models.DeviceStateValidated).
		Order("id asc").
		Find(&out).Error
	return out, err
}

// ListExpiringManual — учётки без автоматизации, у которых токен
// истекает до before: продлить их может только человек, его надо звать.
func (s *CredentialStore) ListExpiringManual(ctx context.Context, before time.Time) ([]models.ExternalCredential, error) {
	var out []models.ExternalCredential
	err := s.db.WithContext(ctx).
		Where("automation_enabled = ? AND device_state = ? AND expires_at IS NOT NULL AND expires_at < ?",
			false, models.DeviceStateValidated, before).
		Order("id asc").
		Find(&out).Error
	return out, err
}
