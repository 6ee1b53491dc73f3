// Package workflow routes construction permit applications between
// authority roles and wires the two terminal decisions into the rest of
// the system: approval resets the applicant's rejection streak and
// issues transport tokens, rejection feeds the blacklist engine.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/blacklist"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/token"
)

var (
	// ErrForbidden is returned when the acting role may not perform the
	// requested workflow action.
	ErrForbidden = errors.New("role not permitted for this action")

	// ErrBlacklisted is returned by the submission gate for applicants
	// currently blacklisted.
	ErrBlacklisted = errors.New("applicant is blacklisted")

	// ErrInvalidTransition is returned when the application's current
	// status does not allow the requested action.
	ErrInvalidTransition = errors.New("invalid application status transition")
)

type Service struct {
	db            store.TxBeginner
	apps          store.ApplicationRepository
	users         store.UserRepository
	blacklist     *blacklist.Service
	tokens        *token.Service
	defaultQuotas []model.MaterialQuota
	logger        *slog.Logger
}

// NewService wires the workflow. defaultQuotas is the material schedule
// applied when an approval names no phases, typically sourced from the
// deployment's material catalog; nil falls back to the built-in default.
func NewService(
	db store.TxBeginner,
	apps store.ApplicationRepository,
	users store.UserRepository,
	bl *blacklist.Service,
	tokens *token.Service,
	defaultQuotas []model.MaterialQuota,
	logger *slog.Logger,
) *Service {
	if len(defaultQuotas) == 0 {
		defaultQuotas = model.DefaultQuotas()
	}
	return &Service{
		db:            db,
		apps:          apps,
		users:         users,
		blacklist:     bl,
		tokens:        tokens,
		defaultQuotas: defaultQuotas,
		logger:        logger.With("component", "workflow"),
	}
}

// CheckSubmission is the gate called before accepting a new application.
// Returns ErrBlacklisted with the recorded reason for blocked applicants.
func (s *Service) CheckSubmission(ctx context.Context, applicantID uuid.UUID) error {
	blocked, reason, err := s.blacklist.CheckBlacklist(ctx, applicantID)
	if err != nil {
		return err
	}
	if blocked {
		return fmt.Errorf("%w: %s", ErrBlacklisted, reason)
	}
	return nil
}

// ApproveInput carries one final approval.
type ApproveInput struct {
	ApplicationID uuid.UUID
	Approver      model.Principal
	Comments      *string
	Phases        []token.PhaseQuota
}

// ApproveResult reports what the approval produced.
type ApproveResult struct {
	Application *model.Application
	Tokens      []model.Token
}

// Approve performs the final approval: only SDM and CMS roles may
// approve. The approval resets the applicant's consecutive rejection
// streak, issues one token per phase and moves the application to
// TOKENS_ISSUED with a timeline entry. Blacklist state does not block
// approval; an authority approving a blacklisted applicant's pending
// application is an implicit path back to good standing.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (*ApproveResult, error) {
	if !in.Approver.Role.CanApprove() {
		return nil, ErrForbidden
	}

	app, err := s.apps.FindByID(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.Status == model.ApplicationStatusRejected ||
		app.Status == model.ApplicationStatusCancelled ||
		app.Status == model.ApplicationStatusTokensIssued ||
		app.Status == model.ApplicationStatusCompleted {
		return nil, ErrInvalidTransition
	}

	if err := s.blacklist.ResetOnApproval(ctx, app.ApplicantID); err != nil {
		return nil, fmt.Errorf("reset rejection streak: %w", err)
	}

	phases := in.Phases
	if len(phases) == 0 {
		phases = []token.PhaseQuota{{
			PhaseNumber: 1,
			PhaseName:   "Construction",
			Materials:   s.defaultQuotas,
		}}
	}
	issued, err := s.tokens.IssueTokens(ctx, app, in.Approver.ID, phases)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	app.Status = model.ApplicationStatusTokensIssued
	app.ApprovedAt = &now
	app.ApprovedBy = &in.Approver.ID
	app.CurrentAuthorityRole = nil
	app.LastActionAt = &now

	if err := s.updateWithTimeline(ctx, app, in.Approver, "APPROVED", in.Comments); err != nil {
		return nil, err
	}

	s.logger.Info("application approved",
		"application", app.ApplicationNumber,
		"approved_by", in.Approver.ID,
		"tokens", len(issued),
	)
	return &ApproveResult{Application: app, Tokens: issued}, nil
}

// RejectInput carries one rejection decision.
type RejectInput struct {
	ApplicationID uuid.UUID
	Rejecter      model.Principal
	Reason        string
	Category      string
	Comments      *string
}

// Reject moves the application to REJECTED and feeds the rejection into
// the blacklist engine. The returned outcome carries the applicant's
// post-rejection counters so the caller can surface a warning.
func (s *Service) Reject(ctx context.Context, in RejectInput) (*blacklist.RejectionOutcome, error) {
	if !in.Rejecter.Role.CanApprove() {
		return nil, ErrForbidden
	}
	if in.Reason == "" {
		return nil, fmt.Errorf("rejection reason is required")
	}

	app, err := s.apps.FindByID(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.Status == model.ApplicationStatusRejected ||
		app.Status == model.ApplicationStatusCancelled ||
		app.Status == model.ApplicationStatusCompleted {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	app.Status = model.ApplicationStatusRejected
	app.RejectedAt = &now
	app.RejectionReason = &in.Reason
	if in.Category != "" {
		app.RejectionCategory = &in.Category
	}
	app.CurrentAuthorityRole = nil
	app.LastActionAt = &now

	if err := s.updateWithTimeline(ctx, app, in.Rejecter, "REJECTED", in.Comments); err != nil {
		return nil, err
	}

	outcome, err := s.blacklist.ProcessRejection(ctx, blacklist.RejectionInput{
		UserID:         app.ApplicantID,
		ApplicationID:  app.ID,
		RejectedBy:     in.Rejecter.ID,
		RejectedByRole: string(in.Rejecter.Role),
		Reason:         in.Reason,
		Category:       in.Category,
		Comments:       in.Comments,
	})
	if err != nil {
		return nil, fmt.Errorf("process rejection: %w", err)
	}

	s.logger.Info("application rejected",
		"application", app.ApplicationNumber,
		"rejected_by", in.Rejecter.ID,
		"consecutive", outcome.ConsecutiveRejections,
		"blacklisted", outcome.IsBlacklisted,
	)
	return outcome, nil
}

// Forward routes the application to the next verification stage. The
// target status must have a reviewing role; terminal statuses are not
// reachable through Forward.
func (s *Service) Forward(ctx context.Context, applicationID uuid.UUID, actor model.Principal, next model.ApplicationStatus, comments *string) (*model.Application, error) {
	if actor.UserType != model.UserTypeAuthority {
		return nil, ErrForbidden
	}

	role, ok := next.ReviewingRole()
	if !ok && next != model.ApplicationStatusPendingEstimate {
		return nil, ErrInvalidTransition
	}

	app, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status == model.ApplicationStatusRejected ||
		app.Status == model.ApplicationStatusCancelled ||
		app.Status == model.ApplicationStatusTokensIssued ||
		app.Status == model.ApplicationStatusCompleted {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	app.Status = next
	if ok {
		app.CurrentAuthorityRole = &role
	} else {
		app.CurrentAuthorityRole = nil
	}
	app.LastActionAt = &now

	if err := s.updateWithTimeline(ctx, app, actor, "FORWARDED", comments); err != nil {
		return nil, err
	}

	s.logger.Info("application forwarded",
		"application", app.ApplicationNumber,
		"status", next,
		"actor", actor.ID,
	)
	return app, nil
}

// updateWithTimeline persists the application and its timeline entry in
// one transaction so the audit trail can never miss a recorded action.
func (s *Service) updateWithTimeline(ctx context.Context, app *model.Application, actor model.Principal, action string, comments *string) error {
	actorName := ""
	if u, err := s.users.FindByID(ctx, actor.ID); err == nil {
		actorName = u.Name
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin workflow tx: %w", err)
	}
	defer rollback(tx, s.logger)

	if err := s.apps.UpdateTx(ctx, tx, app); err != nil {
		return err
	}
	if err := s.apps.InsertTimelineTx(ctx, tx, &model.TimelineEntry{
		ApplicationID: app.ID,
		Status:        string(app.Status),
		Action:        action,
		ActorID:       actor.ID,
		ActorName:     actorName,
		ActorRole:     string(actor.Role),
		Comments:      comments,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow tx: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Error("transaction rollback failed", "error", err)
	}
}
