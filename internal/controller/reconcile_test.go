package controller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relist/internal/models"
	"relist/internal/portal"
	"relist/internal/retry"
)

type fakeListings struct {
	byID      map[uint]*models.Listing
	deleted   []uint
	deleteErr error
}

func (f *fakeListings) Get(_ context.Context, id uint) (*models.Listing, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeListings) SetRemoteID(_ context.Context, id uint, remoteID string) error {
	f.byID[id].RemoteID = remoteID
	return nil
}

func (f *fakeListings) SetStatus(_ context.Context, id uint, status, message string) error {
	f.byID[id].Status = status
	f.byID[id].StatusMessage = message
	return nil
}

func (f *fakeListings) UpdateMedia(_ context.Context, id uint, media []models.MediaAsset) error {
	raw, err := json.Marshal(media)
	if err != nil {
		return err
	}
	f.byID[id].Media = raw
	return nil
}

func (f *fakeListings) Delete(_ context.Context, id uint) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	delete(f.byID, id)
	return nil
}

type fakeAudits struct {
	nextID    uint
	created   []*models.SyncAudit
	completed map[uint]string // id → step
	failed    map[uint]string // id → step
}

func newFakeAudits() *fakeAudits {
	return &fakeAudits{completed: map[uint]string{}, failed: map[uint]string{}}
}

func (f *fakeAudits) Create(_ context.Context, a *models.SyncAudit) error {
	f.nextID++
	a.ID = f.nextID
	f.created = append(f.created, a)
	return nil
}

func (f *fakeAudits) Complete(_ context.Context, id uint, _, step string) error {
	f.completed[id] = step
	return nil
}

func (f *fakeAudits) Fail(_ context.Context, id uint, step, _ string) error {
	f.failed[id] = step
	return nil
}

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context, string, string) (string, error) {
	return "tok", nil
}

// fakePortal программируется хуками; счётчики — на каждую операцию.
type fakePortal struct {
	createFn func(p portal.ListingPayload) (string, error)
	updateFn func(remoteID string, p portal.ListingPayload) error
	findFn   func(externalID string) (string, error)
	deleteFn func(remoteIDs []string) error
	uploadFn func(srcURL string) (string, error)

	creates, updates, finds, deletes, uploads int
	updatedIDs                                []string
}

func (f *fakePortal) CreateListing(_ context.Context, _ string, p portal.ListingPayload) (string, error) {
	f.creates++
	if f.createFn == nil {
		return "R1", nil
	}
	return f.createFn(p)
}

func (f *fakePortal) UpdateListing(_ context.Context, _, remoteID string, p portal.ListingPayload) error {
	f.updates++
	f.updatedIDs = append(f.updatedIDs, remoteID)
	if f.updateFn == nil {
		return nil
	}
	return f.updateFn(remoteID, p)
}

func (f *fakePortal) FindByExternalID(_ context.Context, _, externalID string) (string, error) {
	f.finds++
	if f.findFn == nil {
		return "", nil
	}
	return f.findFn(externalID)
}

func (f *fakePortal) DeleteListings(_ context.Context, _ string, remoteIDs []string) error {
	f.deletes++
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(remoteIDs)
}

func (f *fakePortal) UploadAsset(_ context.Context, _, srcURL string) (string, error) {
	f.uploads++
	if f.uploadFn == nil {
		return "https://cdn/" + srcURL, nil
	}
	return f.uploadFn(srcURL)
}

func instantRetries() RetrySchedule {
	return RetrySchedule{
		Update: retry.Policy{Attempts: 3, Retryable: portal.IsTransient},
		Delete: retry.Policy{Attempts: 3, Retryable: portal.IsTransient},
	}
}

func newTestReconciler(listings *fakeListings, audits *fakeAudits, p *fakePortal) *Reconciler {
	r := NewReconciler(listings, audits, staticTokens{}, p, "portal")
	r.Retry = instantRetries()
	return r
}

func draft(id uint, remoteID string) *models.Listing {
	return &models.Listing{
		ID:         id,
		TenantID:   "t1",
		ExternalID: "ext-1",
		Title:      "listing",
		RemoteID:   remoteID,
		Status:     models.ListingStatusDraft,
	}
}

func TestSyncCreatesWhenUnknown(t *testing.T) {
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "")}}
	audits := newFakeAudits()
	p := &fakePortal{}

	r := newTestReconciler(listings, audits, p)
	require.NoError(t, r.Sync(context.Background(), 1))

	assert.Equal(t, 1, p.finds)
	assert.Equal(t, 1, p.creates)
	assert.Zero(t, p.updates)
	assert.Equal(t, "R1", listings.byID[1].RemoteID)
	assert.Equal(t, models.ListingStatusPublished, listings.byID[1].Status)
	assert.Equal(t, "create", audits.completed[1])
}

func TestSyncSecondRunUpdatesNotCreates(t *testing.T) {
	// идемпотентность: известный remote id даёт update без create
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "R1")}}
	audits := newFakeAudits()
	p := &fakePortal{}

	r := newTestReconciler(listings, audits, p)
	require.NoError(t, r.Sync(context.Background(), 1))

	assert.Equal(t, 1, p.updates)
	assert.Zero(t, p.creates)
	assert.Zero(t, p.finds)
	assert.Equal(t, "R1", listings.byID[1].RemoteID)
}

func TestSyncHealsStalePointer(t *testing.T) {
	// портал пересоздал объявление: R_OLD протух, поиск находит R_NEW
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "R_OLD")}}
	audits := newFakeAudits()
	p := &fakePortal{
		updateFn: func(remoteID string, _ portal.ListingPayload) error {
			if remoteID == "R_OLD" {
				return &portal.NotFoundError{Op: "update", Ref: remoteID}
			}
			return nil
		},
		findFn: func(string) (string, error) { return "R_NEW", nil },
	}

	r := newTestReconciler(listings, audits, p)
	require.NoError(t, r.Sync(context.Background(), 1))

	// ровно один update по найденному id, а не повторный по старому
	require.Equal(t, []string{"R_OLD", "R_NEW"}, p.updatedIDs)
	assert.Zero(t, p.creates)
	assert.Equal(t, "R_NEW", listings.byID[1].RemoteID)
	assert.Equal(t, models.ListingStatusPublished, listings.byID[1].Status)
	assert.Equal(t, "update_discovered", audits.completed[1])
}

func TestSyncBusinessRuleIsTerminal(t *testing.T) {
	// отказ бизнес-правила не проваливается в create: дубль хуже
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "R1")}}
	audits := newFakeAudits()
	ruleErr := &portal.BusinessRuleError{Op: "update", Code: portal.CodePlanLimit, Message: "plan limit"}
	p := &fakePortal{
		updateFn: func(string, portal.ListingPayload) error { return ruleErr },
	}

	r := newTestReconciler(listings, audits, p)
	err := r.Sync(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, portal.IsBusinessRule(err))

	assert.Equal(t, 1, p.updates, "no retry on business rule")
	assert.Zero(t, p.creates)
	assert.Zero(t, p.finds)
	assert.Equal(t, models.ListingStatusError, listings.byID[1].Status)
	assert.Equal(t, "update", audits.failed[1])
}

func TestSyncRetriesTransientUpdate(t *testing.T) {
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "R1")}}
	audits := newFakeAudits()
	calls := 0
	p := &fakePortal{
		updateFn: func(string, portal.ListingPayload) error {
			calls++
			if calls < 3 {
				return &portal.TransientError{Op: "update", Kind: portal.KindServer}
			}
			return nil
		},
	}

	r := newTestReconciler(listings, audits, p)
	require.NoError(t, r.Sync(context.Background(), 1))
	assert.Equal(t, 3, p.updates)
	assert.Equal(t, models.ListingStatusPublished, listings.byID[1].Status)
}

func TestSyncUploadsPendingMediaOnce(t *testing.T) {
	l := draft(1, "R1")
	raw, err := json.Marshal([]models.MediaAsset{
		{URL: "a.jpg"},
		{URL: "b.jpg", RemoteURL: "https://cdn/b.jpg"},
	})
	require.NoError(t, err)
	l.Media = raw

	listings := &fakeListings{byID: map[uint]*models.Listing{1: l}}
	audits := newFakeAudits()
	p := &fakePortal{}

	r := newTestReconciler(listings, audits, p)
	require.NoError(t, r.Sync(context.Background(), 1))
	assert.Equal(t, 1, p.uploads, "only the asset without remote url is uploaded")

	// remote url сохранён — повторный sync не льёт заново
	require.NoError(t, r.Sync(context.Background(), 1))
	assert.Equal(t, 1, p.uploads)
}

func TestSyncSkipsFailedUpload(t *testing.T) {
	l := draft(1, "R1")
	raw, err := json.Marshal([]models.MediaAsset{{URL: "bad.jpg"}, {URL: "good.jpg"}})
	require.NoError(t, err)
	l.Media = raw

	listings := &fakeListings{byID: map[uint]*models.Listing{1: l}}
	audits := newFakeAudits()
	var got portal.ListingPayload
	p := &fakePortal{
		uploadFn: func(src string) (string, error) {
			if src == "bad.jpg" {
				return "", &portal.TransientError{Op: "upload", Kind: portal.KindServer}
			}
			return "https://cdn/" + src, nil
		},
		updateFn: func(_ string, pl portal.ListingPayload) error {
			got = pl
			return nil
		},
	}

	r := newTestReconciler(listings, audits, p)
	require.NoError(t, r.Sync(context.Background(), 1))
	assert.Equal(t, []string{"https://cdn/good.jpg"}, got.Media)
	assert.Equal(t, models.ListingStatusPublished, listings.byID[1].Status)
}

func TestDeleteRemoteNotFoundIsSuccess(t *testing.T) {
	p := &fakePortal{
		deleteFn: func([]string) error {
			return &portal.NotFoundError{Op: "delete", Ref: "R1"}
		},
	}
	r := newTestReconciler(&fakeListings{byID: map[uint]*models.Listing{}}, newFakeAudits(), p)

	require.NoError(t, r.DeleteRemote(context.Background(), "t1", []string{"R1", "R2"}))
	assert.Equal(t, 1, p.deletes, "not-found is terminal, no retry")
}

func TestDeleteRemoteRetriesTransient(t *testing.T) {
	calls := 0
	p := &fakePortal{
		deleteFn: func([]string) error {
			calls++
			return &portal.TransientError{Op: "delete", Kind: portal.KindConnection}
		},
	}
	r := newTestReconciler(&fakeListings{byID: map[uint]*models.Listing{}}, newFakeAudits(), p)

	err := r.DeleteRemote(context.Background(), "t1", []string{"R1"})
	require.Error(t, err)
	assert.True(t, portal.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDeleteKeepsLocalOnRemoteFailure(t *testing.T) {
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "R1")}}
	audits := newFakeAudits()
	p := &fakePortal{
		deleteFn: func([]string) error {
			return &portal.TransientError{Op: "delete", Kind: portal.KindServer}
		},
	}
	r := newTestReconciler(listings, audits, p)

	err := r.Delete(context.Background(), 1)
	require.Error(t, err)
	// обе стороны на месте — расхождения нет, ошибка остаётся транзиентной
	assert.True(t, portal.IsTransient(err))
	var ce *portal.ConsistencyError
	assert.False(t, errors.As(err, &ce))
	assert.Empty(t, listings.deleted, "local record survives remote failure")
	assert.Equal(t, "delete", audits.failed[1])
}

func TestDeleteFlagsDivergenceOnLocalFailure(t *testing.T) {
	listings := &fakeListings{
		byID:      map[uint]*models.Listing{1: draft(1, "R1")},
		deleteErr: errors.New("disk full"),
	}
	audits := newFakeAudits()
	r := newTestReconciler(listings, audits, &fakePortal{})

	err := r.Delete(context.Background(), 1)
	require.Error(t, err)
	// портал запись уже снял, локальная осталась — это и есть расхождение
	var ce *portal.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Detail, "R1")
	assert.Equal(t, "local_delete", audits.failed[1])
	assert.Empty(t, audits.completed)
}

func TestDeleteRemovesRemoteThenLocal(t *testing.T) {
	listings := &fakeListings{byID: map[uint]*models.Listing{1: draft(1, "R1")}}
	p := &fakePortal{}
	r := newTestReconciler(listings, newFakeAudits(), p)

	require.NoError(t, r.Delete(context.Background(), 1))
	assert.Equal(t, 1, p.deletes)
	assert.Equal(t, []uint{1}, listings.deleted)
}
