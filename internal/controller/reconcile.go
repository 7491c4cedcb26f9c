// Package controller — реконсайлер публикаций: приводит состояние
// листинга на портале к локальному. Идемпотентен: повторный запуск по
// уже опубликованному листингу — это update, а не дубль.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relist/internal/logs"
	"relist/internal/models"
	"relist/internal/portal"
	"relist/internal/retry"
)

// Максимум медиа-файлов в одной публикации по умолчанию; лишние молча
// отбрасываем.
const defaultMaxAssets = 10

// Listings — консьюмерский срез хранилища листингов.
type Listings interface {
	Get(ctx context.Context, id uint) (*models.Listing, error)
	SetRemoteID(ctx context.Context, id uint, remoteID string) error
	SetStatus(ctx context.Context, id uint, status, message string) error
	UpdateMedia(ctx context.Context, id uint, media []models.MediaAsset) error
	Delete(ctx context.Context, id uint) error
}

// Audits — журнал операций синхронизации.
type Audits interface {
	Create(ctx context.Context, a *models.SyncAudit) error
	Complete(ctx context.Context, id uint, newRemoteID, step string) error
	Fail(ctx context.Context, id uint, step, errMsg string) error
}

// Tokens выдаёт действующий access token арендатора.
type Tokens interface {
	AccessToken(ctx context.Context, tenantID, provider string) (string, error)
}

// Portal — нужные реконсайлеру операции внешнего API.
type Portal interface {
	CreateListing(ctx context.Context, token string, p portal.ListingPayload) (string, error)
	UpdateListing(ctx context.Context, token, remoteID string, p portal.ListingPayload) error
	FindByExternalID(ctx context.Context, token, externalID string) (string, error)
	DeleteListings(ctx context.Context, token string, remoteIDs []string) error
	UploadAsset(ctx context.Context, token, srcURL string) (string, error)
}

// RetrySchedule — политики повторов по операциям; тесты обнуляют паузы.
type RetrySchedule struct {
	Update retry.Policy
	Delete retry.Policy
}

func defaultRetries() RetrySchedule {
	steps := retry.Steps(2*time.Second, 4*time.Second)
	connSteps := retry.Steps(3*time.Second, 6*time.Second)
	return RetrySchedule{
		Update: retry.Policy{
			Attempts:  3,
			Delay:     steps,
			Retryable: portal.IsTransient,
		},
		Delete: retry.Policy{
			Attempts: 3,
			Delay: func(err error, attempt int) time.Duration {
				// обрыв соединения ждём дольше: портал мог принять запрос
				if portal.IsConnection(err) {
					return connSteps(err, attempt)
				}
				return steps(err, attempt)
			},
			Retryable: portal.IsTransient,
		},
	}
}

type Reconciler struct {
	Listings  Listings
	Audits    Audits
	Tokens    Tokens
	Portal    Portal
	Provider  string
	MaxAssets int
	Retry     RetrySchedule
}

func NewReconciler(listings Listings, audits Audits, tokens Tokens, p Portal, provider string) *Reconciler {
	return &Reconciler{
		Listings:  listings,
		Audits:    audits,
		Tokens:    tokens,
		Portal:    p,
		Provider:  provider,
		MaxAssets: defaultMaxAssets,
		Retry:     defaultRetries(),
	}
}

// Sync публикует листинг на портале (upsert). Порядок fallback'ов:
//
//  1. есть кэшированный remote id → update;
//  2. update ответил not-found → указатель протух → поиск по
//     external id и update найденного (ровно один update, не два);
//  3. remote id нет и поиск пуст → create.
//
// Ошибка бизнес-правила терминальна и НЕ проваливается в create:
// дубль хуже недоставленного обновления.
func (r *Reconciler) Sync(ctx context.Context, listingID uint) error {
	l, err := r.Listings.Get(ctx, listingID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("listing %d vanished before sync", listingID)
	}

	token, err := r.Tokens.AccessToken(ctx, l.TenantID, r.Provider)
	if err != nil {
		return r.fail(ctx, l, 0, "token", err)
	}

	audit, err := r.openAudit(ctx, l)
	if err != nil {
		return err
	}

	if err := r.Listings.SetStatus(ctx, l.ID, models.ListingStatusPublishing, ""); err != nil {
		return err
	}

	payload, err := r.buildPayload(ctx, token, l)
	if err != nil {
		return r.fail(ctx, l, audit, "media", err)
	}

	remoteID, step, err := r.upsert(ctx, token, l, payload)
	if err != nil {
		return r.fail(ctx, l, audit, step, err)
	}

	if remoteID != l.RemoteID {
		if err := r.Listings.SetRemoteID(ctx, l.ID, remoteID); err != nil {
			return err
		}
	}
	if err := r.Audits.Complete(ctx, audit, remoteID, step); err != nil {
		logs.Logger.Errorf("sync: close audit %d: %v", audit, err)
	}
	return r.Listings.SetStatus(ctx, l.ID, models.ListingStatusPublished, "")
}

// upsert возвращает итоговый remote id и шаг, на котором он получен.
func (r *Reconciler) upsert(ctx context.Context, token string, l *models.Listing, p portal.ListingPayload) (string, string, error) {
	if l.RemoteID != "" {
		err := retry.Do(ctx, r.Retry.Update, func() error {
			return r.Portal.UpdateListing(ctx, token, l.RemoteID, p)
		})
		switch {
		case err == nil:
			return l.RemoteID, "update", nil
		case portal.IsNotFound(err):
			// кэшированный id протух на стороне портала — лечим поиском
			logs.Logger.Warnf("sync: stale remote id %s for listing %d, re-resolving", l.RemoteID, l.ID)
		default:
			return "", "update", err
		}
	}

	found, err := r.Portal.FindByExternalID(ctx, token, l.ExternalID)
	if err != nil {
		return "", "lookup", err
	}
	if found != "" {
		err := retry.Do(ctx, r.Retry.Update, func() error {
			return r.Portal.UpdateListing(ctx, token, found, p)
		})
		if err != nil {
			return "", "update_discovered", err
		}
		return found, "update_discovered", nil
	}

	created, err := r.Portal.CreateListing(ctx, token, p)
	if err != nil {
		return "", "create", err
	}
	return created, "create", nil
}

// buildPayload догружает на портал медиа без remote url. Сбой загрузки
// одного файла не валит публикацию — файл пропускается, остальные идут.
func (r *Reconciler) buildPayload(ctx context.Context, token string, l *models.Listing) (portal.ListingPayload, error) {
	assets, err := l.MediaAssets()
	if err != nil {
		return portal.ListingPayload{}, fmt.Errorf("media payload corrupted: %w", err)
	}
	limit := r.MaxAssets
	if limit <= 0 {
		limit = defaultMaxAssets
	}
	if len(assets) > limit {
		assets = assets[:limit]
	}

	changed := false
	urls := make([]string, 0, len(assets))
	for i := range assets {
		if assets[i].RemoteURL == "" {
			remote, err := r.Portal.UploadAsset(ctx, token, assets[i].URL)
			if err != nil {
				logs.Logger.Warnf("sync: upload %s for listing %d: %v", assets[i].URL, l.ID, err)
				continue
			}
			assets[i].RemoteURL = remote
			changed = true
		}
		urls = append(urls, assets[i].RemoteURL)
	}
	if changed {
		// remote url'ы переживают ретраи: повторная публикация не льёт заново
		if err := r.Listings.UpdateMedia(ctx, l.ID, assets); err != nil {
			return portal.ListingPayload{}, err
		}
	}

	return portal.ListingPayload{
		ExternalID: l.ExternalID,
		Title:      l.Title,
		Media:      urls,
	}, nil
}

// DeleteRemote снимает листинги с портала пакетом. Not-found — не
// ошибка: цели уже нет, значит удаление состоялось.
func (r *Reconciler) DeleteRemote(ctx context.Context, tenantID string, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	token, err := r.Tokens.AccessToken(ctx, tenantID, r.Provider)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, r.Retry.Delete, func() error {
		return r.Portal.DeleteListings(ctx, token, remoteIDs)
	})
	if portal.IsNotFound(err) {
		return nil
	}
	return err
}

// Delete удаляет листинг: сперва на портале, потом локально. Сбой
// удалённого удаления — обычная ошибка, обе стороны не изменились и
// можно просто повторить. Расхождение возникает в обратном случае:
// портал запись уже снял, а локальное удаление не прошло — тогда
// ConsistencyError, осиротевший указатель чинится руками.
func (r *Reconciler) Delete(ctx context.Context, listingID uint) error {
	l, err := r.Listings.Get(ctx, listingID)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}

	if l.RemoteID == "" {
		return r.Listings.Delete(ctx, listingID)
	}

	audit, err := r.openAudit(ctx, l)
	if err != nil {
		return err
	}
	if err := r.DeleteRemote(ctx, l.TenantID, []string{l.RemoteID}); err != nil {
		_ = r.Audits.Fail(ctx, audit, "delete", err.Error())
		return err
	}
	if err := r.Listings.Delete(ctx, listingID); err != nil {
		_ = r.Audits.Fail(ctx, audit, "local_delete", err.Error())
		return &portal.ConsistencyError{
			Op:     "delete",
			Detail: fmt.Sprintf("remote listing %s removed but local record %d kept: %v", l.RemoteID, l.ID, err),
		}
	}
	if err := r.Audits.Complete(ctx, audit, "", "delete"); err != nil {
		logs.Logger.Errorf("sync: close audit %d: %v", audit, err)
	}
	return nil
}

// openAudit создаёт запись журнала со снимком листинга до операции.
func (r *Reconciler) openAudit(ctx context.Context, l *models.Listing) (uint, error) {
	backup, err := json.Marshal(l)
	if err != nil {
		return 0, err
	}
	a := &models.SyncAudit{
		ListingID:        l.ID,
		Status:           models.AuditStatusInProgress,
		Backup:           backup,
		OriginalRemoteID: l.RemoteID,
	}
	if err := r.Audits.Create(ctx, a); err != nil {
		return 0, err
	}
	return a.ID, nil
}

// fail переводит листинг в error и закрывает аудит с указанием шага.
func (r *Reconciler) fail(ctx context.Context, l *models.Listing, audit uint, step string, cause error) error {
	msg := cause.Error()
	logs.Logger.Errorf("sync: listing %d failed at %s: %v", l.ID, step, cause)
	if audit != 0 {
		_ = r.Audits.Fail(ctx, audit, step, msg)
	}
	if err := r.Listings.SetStatus(ctx, l.ID, models.ListingStatusError, msg); err != nil {
		logs.Logger.Errorf("sync: mark listing %d error: %v", l.ID, err)
	}
	return cause
}
