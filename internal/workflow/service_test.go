package workflow

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/blacklist"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/notify"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/token"
)

type fakeDriver struct{}
type fakeConn struct{}
type fakeTxImpl struct{}

func (d *fakeDriver) Open(name string) (driver.Conn, error) { return &fakeConn{}, nil }
func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return &fakeTxImpl{}, nil }
func (tx *fakeTxImpl) Commit() error          { return nil }
func (tx *fakeTxImpl) Rollback() error        { return nil }

func init() {
	sql.Register("fake_workflow", &fakeDriver{})
}

func openFakeDB() *sql.DB {
	db, _ := sql.Open("fake_workflow", "")
	return db
}

type fakeStatusRepo struct {
	statuses map[uuid.UUID]*model.BlacklistStatus
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{statuses: make(map[uuid.UUID]*model.BlacklistStatus)}
}

func (r *fakeStatusRepo) Get(_ context.Context, userID uuid.UUID) (*model.BlacklistStatus, error) {
	s, ok := r.statuses[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeStatusRepo) GetOrCreateForUpdateTx(_ context.Context, _ *sql.Tx, userID uuid.UUID) (*model.BlacklistStatus, error) {
	if s, ok := r.statuses[userID]; ok {
		cp := *s
		return &cp, nil
	}
	s := &model.BlacklistStatus{ID: uuid.New(), UserID: userID}
	r.statuses[userID] = s
	cp := *s
	return &cp, nil
}

func (r *fakeStatusRepo) GetForUpdateTx(_ context.Context, _ *sql.Tx, userID uuid.UUID) (*model.BlacklistStatus, error) {
	s, ok := r.statuses[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeStatusRepo) UpdateTx(_ context.Context, _ *sql.Tx, status *model.BlacklistStatus) error {
	cp := *status
	r.statuses[status.UserID] = &cp
	return nil
}

type fakeRejectionRepo struct {
	records []model.RejectionRecord
}

func (r *fakeRejectionRepo) InsertTx(_ context.Context, _ *sql.Tx, rec *model.RejectionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	r.records = append(r.records, *rec)
	return nil
}

func (r *fakeRejectionRepo) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]model.RejectionRecord, error) {
	var out []model.RejectionRecord
	for _, rec := range r.records {
		if rec.UserID == userID && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeAuditRepo struct {
	entries []model.AuditLogEntry
}

func (r *fakeAuditRepo) InsertTx(_ context.Context, _ *sql.Tx, entry *model.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]model.AuditLogEntry, error) {
	var out []model.AuditLogEntry
	for _, e := range r.entries {
		if e.UserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	users map[uuid.UUID]*model.User
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type fakeTokenRepo struct {
	tokens map[uuid.UUID]*model.Token
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[uuid.UUID]*model.Token)}
}

func (r *fakeTokenRepo) InsertTx(_ context.Context, _ *sql.Tx, t *model.Token) error {
	for _, existing := range r.tokens {
		if existing.TokenNumber == t.TokenNumber {
			return store.ErrDuplicateToken
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	r.tokens[t.ID] = &cp
	return nil
}

func (r *fakeTokenRepo) FindByNumber(_ context.Context, tokenNumber string) (*model.Token, error) {
	for _, t := range r.tokens {
		if t.TokenNumber == tokenNumber {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeTokenRepo) FindByNumberForUpdateTx(ctx context.Context, _ *sql.Tx, tokenNumber string) (*model.Token, error) {
	return r.FindByNumber(ctx, tokenNumber)
}

func (r *fakeTokenRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Token, error) {
	t, ok := r.tokens[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTokenRepo) ListByApplication(_ context.Context, applicationID uuid.UUID) ([]model.Token, error) {
	var out []model.Token
	for _, t := range r.tokens {
		if t.ApplicationID == applicationID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeTokenRepo) UpdateStatusTx(_ context.Context, _ *sql.Tx, id uuid.UUID, status model.TokenStatus) error {
	t, ok := r.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTokenRepo) RecordUsageTx(_ context.Context, _ *sql.Tx, id uuid.UUID) error {
	t, ok := r.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	t.UsageCount++
	return nil
}

func (r *fakeTokenRepo) MarkCancelledTx(_ context.Context, _ *sql.Tx, id uuid.UUID, cancelledBy uuid.UUID, reason string) error {
	t, ok := r.tokens[id]
	if !ok || t.Status.Terminal() {
		return store.ErrNotFound
	}
	t.Status = model.TokenStatusCancelled
	return nil
}

func (r *fakeTokenRepo) ExpireOverdue(_ context.Context) (int64, error) { return 0, nil }

type fakeEntryRepo struct{}

func (r *fakeEntryRepo) InsertTx(_ context.Context, _ *sql.Tx, _ *model.VehicleEntry) error {
	return nil
}

func (r *fakeEntryRepo) SumByMaterialTx(_ context.Context, _ *sql.Tx, _ uuid.UUID) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
}

func (r *fakeEntryRepo) ListByToken(_ context.Context, _ uuid.UUID, _ int) ([]model.VehicleEntry, error) {
	return nil, nil
}

type fakeShareRepo struct{}

func (r *fakeShareRepo) Insert(_ context.Context, _ *model.TokenShare) error { return nil }
func (r *fakeShareRepo) ListActiveByTokenTx(_ context.Context, _ *sql.Tx, _ uuid.UUID) ([]model.TokenShare, error) {
	return nil, nil
}
func (r *fakeShareRepo) MarkUsedTx(_ context.Context, _ *sql.Tx, _ uuid.UUID) error { return nil }

type fakeAppRepo struct {
	apps     map[uuid.UUID]*model.Application
	timeline []model.TimelineEntry
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{apps: make(map[uuid.UUID]*model.Application)}
}

func (r *fakeAppRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Application, error) {
	a, ok := r.apps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAppRepo) UpdateTx(_ context.Context, _ *sql.Tx, app *model.Application) error {
	if _, ok := r.apps[app.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *app
	r.apps[app.ID] = &cp
	return nil
}

func (r *fakeAppRepo) InsertTimelineTx(_ context.Context, _ *sql.Tx, entry *model.TimelineEntry) error {
	r.timeline = append(r.timeline, *entry)
	return nil
}

type workflowFixture struct {
	svc       *Service
	apps      *fakeAppRepo
	tokens    *fakeTokenRepo
	statuses  *fakeStatusRepo
	app       *model.Application
	applicant *model.User
	sdm       model.Principal
	jen       model.Principal
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	applicant := &model.User{
		ID:       uuid.New(),
		Name:     "Suresh Patel",
		Mobile:   "9812345678",
		UserType: model.UserTypeApplicant,
	}
	sdmUser := &model.User{
		ID:       uuid.New(),
		Name:     "Officer Meena",
		UserType: model.UserTypeAuthority,
		Role:     model.RoleSDM,
	}
	app := &model.Application{
		ID:                uuid.New(),
		ApplicationNumber: "APP-2024-042",
		ApplicantID:       applicant.ID,
		Status:            model.ApplicationStatusSDMReview,
		PropertyAddress:   "Ward 7, Mount Abu",
	}

	apps := newFakeAppRepo()
	apps.apps[app.ID] = app
	statuses := newFakeStatusRepo()
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{
		applicant.ID: applicant,
		sdmUser.ID:   sdmUser,
	}}
	tokens := newFakeTokenRepo()

	db := openFakeDB()
	bl := blacklist.NewService(db, statuses, &fakeRejectionRepo{}, &fakeAuditRepo{}, users, notify.NoopNotifier{}, blacklist.Config{}, slog.Default())
	tk := token.NewService(db, tokens, &fakeEntryRepo{}, &fakeShareRepo{}, apps, users, notify.NoopNotifier{}, token.Config{}, slog.Default())
	svc := NewService(db, apps, users, bl, tk, nil, slog.Default())

	return &workflowFixture{
		svc:       svc,
		apps:      apps,
		tokens:    tokens,
		statuses:  statuses,
		app:       app,
		applicant: applicant,
		sdm:       model.Principal{ID: sdmUser.ID, Role: model.RoleSDM, UserType: model.UserTypeAuthority},
		jen:       model.Principal{ID: uuid.New(), Role: model.RoleJEN, UserType: model.UserTypeAuthority},
	}
}

func TestApprove_IssuesTokensAndMovesStatus(t *testing.T) {
	f := newWorkflowFixture(t)

	res, err := f.svc.Approve(context.Background(), ApproveInput{
		ApplicationID: f.app.ID,
		Approver:      f.sdm,
	})
	require.NoError(t, err)

	assert.Equal(t, model.ApplicationStatusTokensIssued, res.Application.Status)
	assert.NotNil(t, res.Application.ApprovedAt)
	require.NotNil(t, res.Application.ApprovedBy)
	assert.Equal(t, f.sdm.ID, *res.Application.ApprovedBy)
	assert.Nil(t, res.Application.CurrentAuthorityRole)

	// No explicit phases means one construction-phase token on the
	// default material schedule.
	require.Len(t, res.Tokens, 1)
	assert.Equal(t, "TKN-2024-042-P1", res.Tokens[0].TokenNumber)
	assert.Equal(t, model.TokenStatusActive, res.Tokens[0].Status)
	assert.Len(t, res.Tokens[0].Materials, len(model.DefaultQuotas()))

	require.Len(t, f.apps.timeline, 1)
	entry := f.apps.timeline[0]
	assert.Equal(t, "APPROVED", entry.Action)
	assert.Equal(t, "Officer Meena", entry.ActorName)
	assert.Equal(t, string(model.ApplicationStatusTokensIssued), entry.Status)
}

func TestApprove_ExplicitPhases(t *testing.T) {
	f := newWorkflowFixture(t)

	res, err := f.svc.Approve(context.Background(), ApproveInput{
		ApplicationID: f.app.ID,
		Approver:      f.sdm,
		Phases: []token.PhaseQuota{
			{PhaseNumber: 1, PhaseName: "Foundation", Materials: model.DefaultQuotas()},
			{PhaseNumber: 2, PhaseName: "Structure", Materials: model.DefaultQuotas()},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Tokens, 2)
	assert.Equal(t, "TKN-2024-042-P2", res.Tokens[1].TokenNumber)
}

func TestApprove_RoleGate(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Approve(context.Background(), ApproveInput{
		ApplicationID: f.app.ID,
		Approver:      f.jen,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestApprove_TerminalStatusRejected(t *testing.T) {
	f := newWorkflowFixture(t)
	f.app.Status = model.ApplicationStatusRejected
	f.apps.apps[f.app.ID] = f.app

	_, err := f.svc.Approve(context.Background(), ApproveInput{
		ApplicationID: f.app.ID,
		Approver:      f.sdm,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApprove_ResetsRejectionStreak(t *testing.T) {
	f := newWorkflowFixture(t)

	// Two prior rejections leave a live streak.
	for i := 0; i < 2; i++ {
		_, err := f.svc.Reject(context.Background(), RejectInput{
			ApplicationID: f.app.ID,
			Rejecter:      f.sdm,
			Reason:        "incomplete documents",
		})
		require.NoError(t, err)
		f.app.Status = model.ApplicationStatusSDMReview
		f.apps.apps[f.app.ID] = f.app
	}
	require.Equal(t, 2, f.statuses.statuses[f.applicant.ID].ConsecutiveRejections)

	_, err := f.svc.Approve(context.Background(), ApproveInput{
		ApplicationID: f.app.ID,
		Approver:      f.sdm,
	})
	require.NoError(t, err)

	status := f.statuses.statuses[f.applicant.ID]
	assert.Equal(t, 0, status.ConsecutiveRejections)
	assert.Equal(t, 2, status.TotalRejections, "approval must not erase history")
	assert.Equal(t, 1, status.TotalApprovals)
}

func TestReject_FeedsBlacklistEngine(t *testing.T) {
	f := newWorkflowFixture(t)

	outcome, err := f.svc.Reject(context.Background(), RejectInput{
		ApplicationID: f.app.ID,
		Rejecter:      f.sdm,
		Reason:        "setback violation",
		Category:      "ZONING",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ConsecutiveRejections)
	assert.False(t, outcome.IsBlacklisted)

	stored := f.apps.apps[f.app.ID]
	assert.Equal(t, model.ApplicationStatusRejected, stored.Status)
	require.NotNil(t, stored.RejectionReason)
	assert.Equal(t, "setback violation", *stored.RejectionReason)
	require.NotNil(t, stored.RejectionCategory)
	assert.Equal(t, "ZONING", *stored.RejectionCategory)

	require.Len(t, f.apps.timeline, 1)
	assert.Equal(t, "REJECTED", f.apps.timeline[0].Action)
}

func TestReject_ThirdStrikeBlacklists(t *testing.T) {
	f := newWorkflowFixture(t)

	var outcome *blacklist.RejectionOutcome
	for i := 0; i < 3; i++ {
		var err error
		outcome, err = f.svc.Reject(context.Background(), RejectInput{
			ApplicationID: f.app.ID,
			Rejecter:      f.sdm,
			Reason:        "incomplete documents",
		})
		require.NoError(t, err)
		f.app.Status = model.ApplicationStatusSDMReview
		f.apps.apps[f.app.ID] = f.app
	}

	assert.Equal(t, 3, outcome.ConsecutiveRejections)
	assert.True(t, outcome.IsBlacklisted)
	assert.True(t, outcome.TriggeredBlacklist)

	// The submission gate now blocks the applicant.
	err := f.svc.CheckSubmission(context.Background(), f.applicant.ID)
	assert.ErrorIs(t, err, ErrBlacklisted)
}

func TestReject_RequiresReason(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Reject(context.Background(), RejectInput{
		ApplicationID: f.app.ID,
		Rejecter:      f.sdm,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason is required")
}

func TestReject_RoleGate(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Reject(context.Background(), RejectInput{
		ApplicationID: f.app.ID,
		Rejecter:      f.jen,
		Reason:        "failed inspection",
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCheckSubmission_CleanApplicant(t *testing.T) {
	f := newWorkflowFixture(t)

	assert.NoError(t, f.svc.CheckSubmission(context.Background(), f.applicant.ID))
}

func TestForward_RoutesToReviewingRole(t *testing.T) {
	f := newWorkflowFixture(t)

	app, err := f.svc.Forward(context.Background(), f.app.ID, f.sdm, model.ApplicationStatusLandVerification, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusLandVerification, app.Status)
	require.NotNil(t, app.CurrentAuthorityRole)
	assert.Equal(t, model.RoleLand, *app.CurrentAuthorityRole)

	require.Len(t, f.apps.timeline, 1)
	assert.Equal(t, "FORWARDED", f.apps.timeline[0].Action)
}

func TestForward_PendingEstimateHasNoReviewer(t *testing.T) {
	f := newWorkflowFixture(t)

	app, err := f.svc.Forward(context.Background(), f.app.ID, f.sdm, model.ApplicationStatusPendingEstimate, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusPendingEstimate, app.Status)
	assert.Nil(t, app.CurrentAuthorityRole)
}

func TestForward_ApplicantForbidden(t *testing.T) {
	f := newWorkflowFixture(t)

	applicant := model.Principal{ID: f.applicant.ID, UserType: model.UserTypeApplicant}
	_, err := f.svc.Forward(context.Background(), f.app.ID, applicant, model.ApplicationStatusLandVerification, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestForward_TerminalTargetRejected(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Forward(context.Background(), f.app.ID, f.sdm, model.ApplicationStatusRejected, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestForward_FromTerminalStatusRejected(t *testing.T) {
	f := newWorkflowFixture(t)
	f.app.Status = model.ApplicationStatusTokensIssued
	f.apps.apps[f.app.ID] = f.app

	_, err := f.svc.Forward(context.Background(), f.app.ID, f.sdm, model.ApplicationStatusJENInspection, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApprove_MissingApplication(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Approve(context.Background(), ApproveInput{
		ApplicationID: uuid.New(),
		Approver:      f.sdm,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
