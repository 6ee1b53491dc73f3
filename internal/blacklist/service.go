// Package blacklist implements the rejection-driven blacklist state
// machine: consecutive-rejection counting, the automatic punitive
// transition at the configured threshold, manual blacklist/whitelist
// overrides, and the audit trail for every transition.
package blacklist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/cache"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/metrics"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/notify"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
)

// ErrNotBlacklisted is returned when whitelisting a user who is not
// currently blacklisted.
var ErrNotBlacklisted = errors.New("user is not blacklisted")

const (
	// DefaultThreshold is the consecutive-rejection count that triggers
	// an automatic blacklist.
	DefaultThreshold = 3

	defaultGateCacheCapacity = 4096
	defaultGateCacheTTL      = 30 * time.Second
)

// Config tunes the engine. Zero values fall back to the defaults above.
type Config struct {
	Threshold     int
	GateCacheSize int
	GateCacheTTL  time.Duration
}

type gateResult struct {
	blacklisted bool
	reason      string
}

// Service is the blacklist engine. All state-mutating operations run the
// status read-modify-write, record inserts and audit inserts as a single
// transaction; a row lock on the status row serializes concurrent calls
// for the same applicant.
type Service struct {
	db            store.TxBeginner
	statusRepo    store.BlacklistStatusRepository
	rejectionRepo store.RejectionRepository
	auditRepo     store.AuditLogRepository
	users         store.UserRepository
	notifier      notify.Notifier
	threshold     int
	logger        *slog.Logger

	gate *cache.LRU[uuid.UUID, gateResult]
}

func NewService(
	db store.TxBeginner,
	statusRepo store.BlacklistStatusRepository,
	rejectionRepo store.RejectionRepository,
	auditRepo store.AuditLogRepository,
	users store.UserRepository,
	notifier notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.GateCacheSize <= 0 {
		cfg.GateCacheSize = defaultGateCacheCapacity
	}
	if cfg.GateCacheTTL <= 0 {
		cfg.GateCacheTTL = defaultGateCacheTTL
	}
	return &Service{
		db:            db,
		statusRepo:    statusRepo,
		rejectionRepo: rejectionRepo,
		auditRepo:     auditRepo,
		users:         users,
		notifier:      notifier,
		threshold:     cfg.Threshold,
		logger:        logger.With("component", "blacklist"),
		gate:          cache.NewLRU[uuid.UUID, gateResult](cfg.GateCacheSize, cfg.GateCacheTTL),
	}
}

// CheckBlacklist is the pure-read gate consulted before an applicant may
// submit a new application. Repeated calls without intervening
// transitions never change state.
func (s *Service) CheckBlacklist(ctx context.Context, userID uuid.UUID) (bool, string, error) {
	if r, ok := s.gate.Get(userID); ok {
		metrics.BlacklistChecks.WithLabelValues(gateLabel(r.blacklisted), "cache").Inc()
		return r.blacklisted, r.reason, nil
	}

	status, err := s.statusRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.gate.Put(userID, gateResult{})
			metrics.BlacklistChecks.WithLabelValues("clear", "db").Inc()
			return false, "", nil
		}
		return false, "", fmt.Errorf("check blacklist: %w", err)
	}

	r := gateResult{blacklisted: status.IsBlacklisted}
	if status.IsBlacklisted {
		if status.BlacklistReason != nil {
			r.reason = *status.BlacklistReason
		} else {
			r.reason = "User is blacklisted due to repeated rejections."
		}
	}
	s.gate.Put(userID, r)
	metrics.BlacklistChecks.WithLabelValues(gateLabel(r.blacklisted), "db").Inc()
	return r.blacklisted, r.reason, nil
}

func gateLabel(blacklisted bool) string {
	if blacklisted {
		return "blacklisted"
	}
	return "clear"
}

// RejectionInput carries one rejection event into the engine.
type RejectionInput struct {
	UserID         uuid.UUID
	ApplicationID  uuid.UUID
	RejectedBy     uuid.UUID
	RejectedByRole string
	Reason         string
	Category       string
	Comments       *string
}

// RejectionOutcome reports the post-update counters for the caller.
type RejectionOutcome struct {
	ConsecutiveRejections int  `json:"consecutive_rejections"`
	IsBlacklisted         bool `json:"is_blacklisted"`
	WarningIssued         bool `json:"warning_issued"`
	TriggeredBlacklist    bool `json:"triggered_blacklist"`
}

// ProcessRejection increments the applicant's rejection counters, appends
// the immutable rejection record with a counter snapshot, and fires
// exactly one of: auto-blacklist at the threshold, warning at
// threshold-1, or nothing. The whole update is one transaction; a second
// concurrent rejection for the same applicant blocks on the row lock and
// sees the first one's increment.
func (s *Service) ProcessRejection(ctx context.Context, in RejectionInput) (*RejectionOutcome, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rejection tx: %w", err)
	}
	defer rollback(tx, s.logger)

	status, err := s.statusRepo.GetOrCreateForUpdateTx(ctx, tx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load blacklist status: %w", err)
	}

	status.ConsecutiveRejections++
	status.TotalRejections++
	status.LastRejectionAt = &now
	status.LastRejectionApplicationID = &in.ApplicationID

	rec := &model.RejectionRecord{
		UserID:           in.UserID,
		ApplicationID:    in.ApplicationID,
		RejectedBy:       in.RejectedBy,
		RejectedByRole:   in.RejectedByRole,
		Reason:           in.Reason,
		Category:         in.Category,
		Comments:         in.Comments,
		ConsecutiveCount: status.ConsecutiveRejections,
		RejectedAt:       now,
	}

	outcome := &RejectionOutcome{}
	var kind notify.Kind

	switch {
	case status.ConsecutiveRejections >= s.threshold:
		outcome.TriggeredBlacklist = true
		rec.TriggeredBlacklist = true
		reason := fmt.Sprintf("Automatic blacklist: %d consecutive rejected applications", s.threshold)
		if err := s.applyBlacklistTx(ctx, tx, status, reason, model.BlacklistCategoryAutoConsecutive, nil, now); err != nil {
			return nil, err
		}
		kind = notify.KindBlacklisted
		metrics.RejectionsProcessed.WithLabelValues("blacklisted").Inc()

	case status.ConsecutiveRejections == s.threshold-1:
		status.WarningIssued = true
		status.WarningIssuedAt = &now
		kind = notify.KindRejectionWarning
		metrics.RejectionsProcessed.WithLabelValues("warning").Inc()

	default:
		metrics.RejectionsProcessed.WithLabelValues("counted").Inc()
	}

	if err := s.rejectionRepo.InsertTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := s.statusRepo.UpdateTx(ctx, tx, status); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rejection tx: %w", err)
	}

	s.gate.Remove(in.UserID)

	outcome.ConsecutiveRejections = status.ConsecutiveRejections
	outcome.IsBlacklisted = status.IsBlacklisted
	outcome.WarningIssued = status.WarningIssued

	switch kind {
	case notify.KindBlacklisted:
		s.logger.Warn("user blacklisted",
			"user_id", in.UserID,
			"consecutive_rejections", status.ConsecutiveRejections,
		)
		s.sendToUser(ctx, in.UserID, notify.KindBlacklisted,
			"Your account has been blacklisted due to repeated rejected applications. "+
				"Please visit the SDM office for resolution.")
	case notify.KindRejectionWarning:
		s.logger.Info("rejection warning issued", "user_id", in.UserID)
		s.sendToUser(ctx, in.UserID, notify.KindRejectionWarning,
			fmt.Sprintf("Warning: You have %d consecutive rejected applications. "+
				"One more rejection will result in automatic blacklisting.",
				status.ConsecutiveRejections))
	}

	return outcome, nil
}

// ResetOnApproval zeroes the consecutive counter and clears the warning
// flag. It applies regardless of blacklist state: an already-blacklisted
// user's counter can reset, but only an explicit whitelist clears the
// blacklist flag. Whether a blacklisted applicant's application should
// be approvable at all is the workflow layer's call, not enforced here.
func (s *Service) ResetOnApproval(ctx context.Context, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval tx: %w", err)
	}
	defer rollback(tx, s.logger)

	status, err := s.statusRepo.GetForUpdateTx(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing to reset for an applicant with no rejection history.
			return nil
		}
		return fmt.Errorf("load blacklist status: %w", err)
	}

	status.ConsecutiveRejections = 0
	status.TotalApprovals++
	status.WarningIssued = false

	if err := s.statusRepo.UpdateTx(ctx, tx, status); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval tx: %w", err)
	}

	metrics.ApprovalResets.Inc()
	s.logger.Info("consecutive rejections reset on approval", "user_id", userID)
	return nil
}

// WhitelistRecord reports a completed whitelist action.
type WhitelistRecord struct {
	UserID        uuid.UUID `json:"user_id"`
	WhitelistedAt time.Time `json:"whitelisted_at"`
	Reason        string    `json:"reason"`
	Conditions    []string  `json:"conditions,omitempty"`
}

// WhitelistUser reverses a blacklist. Fails with store.ErrNotFound when
// no status row exists and ErrNotBlacklisted when the user is clear.
func (s *Service) WhitelistUser(ctx context.Context, userID, whitelistedBy uuid.UUID, reason string, conditions []string) (*WhitelistRecord, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin whitelist tx: %w", err)
	}
	defer rollback(tx, s.logger)

	status, err := s.statusRepo.GetForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load blacklist status: %w", err)
	}
	if !status.IsBlacklisted {
		return nil, ErrNotBlacklisted
	}

	oldValues := statusSnapshot(status)

	status.IsBlacklisted = false
	status.WhitelistedAt = &now
	status.WhitelistedBy = &whitelistedBy
	status.WhitelistReason = &reason
	status.ConsecutiveRejections = 0
	status.WarningIssued = false

	entry := &model.AuditLogEntry{
		UserID:      userID,
		Action:      model.AuditActionWhitelist,
		PerformedBy: &whitelistedBy,
		Description: fmt.Sprintf("User whitelisted: %s", reason),
		OldValues:   oldValues,
		NewValues:   statusSnapshot(status),
		CreatedAt:   now,
	}
	if err := s.auditRepo.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := s.statusRepo.UpdateTx(ctx, tx, status); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit whitelist tx: %w", err)
	}

	s.gate.Remove(userID)
	metrics.BlacklistTransitions.WithLabelValues(string(model.AuditActionWhitelist)).Inc()
	s.logger.Info("user whitelisted", "user_id", userID, "whitelisted_by", whitelistedBy)

	s.sendToUser(ctx, userID, notify.KindWhitelisted,
		"Your account has been whitelisted. You can now submit new applications.")

	return &WhitelistRecord{
		UserID:        userID,
		WhitelistedAt: now,
		Reason:        reason,
		Conditions:    conditions,
	}, nil
}

// BlacklistRecord reports a completed manual blacklist action.
type BlacklistRecord struct {
	UserID        uuid.UUID `json:"user_id"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	Reason        string    `json:"reason"`
}

// ManualBlacklist applies the shared blacklist primitive outside the
// automatic path. It bypasses the threshold entirely: a user with zero
// rejections can be blacklisted by a privileged authority.
func (s *Service) ManualBlacklist(ctx context.Context, userID, blacklistedBy uuid.UUID, reason string, category model.BlacklistCategory) (*BlacklistRecord, error) {
	if category == "" {
		category = model.BlacklistCategoryManual
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin blacklist tx: %w", err)
	}
	defer rollback(tx, s.logger)

	status, err := s.statusRepo.GetOrCreateForUpdateTx(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load blacklist status: %w", err)
	}

	if err := s.applyBlacklistTx(ctx, tx, status, reason, category, &blacklistedBy, now); err != nil {
		return nil, err
	}
	if err := s.statusRepo.UpdateTx(ctx, tx, status); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit blacklist tx: %w", err)
	}

	s.gate.Remove(userID)
	s.logger.Warn("user manually blacklisted",
		"user_id", userID,
		"blacklisted_by", blacklistedBy,
		"reason", reason,
	)
	s.sendToUser(ctx, userID, notify.KindBlacklisted,
		"Your account has been blacklisted due to repeated rejected applications. "+
			"Please visit the SDM office for resolution.")

	return &BlacklistRecord{
		UserID:        userID,
		BlacklistedAt: now,
		Reason:        reason,
	}, nil
}

// applyBlacklistTx is the shared transition primitive for the automatic
// and manual paths. It mutates the status in place and appends the audit
// entry; the caller persists the status and commits.
func (s *Service) applyBlacklistTx(ctx context.Context, tx *sql.Tx, status *model.BlacklistStatus, reason string, category model.BlacklistCategory, blacklistedBy *uuid.UUID, now time.Time) error {
	oldValues := statusSnapshot(status)

	status.IsBlacklisted = true
	status.BlacklistedAt = &now
	status.BlacklistReason = &reason
	status.BlacklistCategory = category
	status.BlacklistedBy = blacklistedBy

	action := model.AuditActionAutoBlacklist
	if blacklistedBy != nil {
		action = model.AuditActionManualBlacklist
	}

	entry := &model.AuditLogEntry{
		UserID:      status.UserID,
		Action:      action,
		PerformedBy: blacklistedBy,
		Description: reason,
		OldValues:   oldValues,
		NewValues:   statusSnapshot(status),
		CreatedAt:   now,
	}
	if err := s.auditRepo.InsertTx(ctx, tx, entry); err != nil {
		return err
	}

	metrics.BlacklistTransitions.WithLabelValues(string(action)).Inc()
	return nil
}

// sendToUser resolves the user's mobile and dispatches best-effort.
// Failures are logged, never propagated: the committed transition stands
// whether or not the SMS goes out.
func (s *Service) sendToUser(ctx context.Context, userID uuid.UUID, kind notify.Kind, message string) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("notification recipient lookup failed", "user_id", userID, "error", err)
		return
	}
	if user.Mobile == "" {
		return
	}
	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:            kind,
		RecipientMobile: user.Mobile,
		Message:         message,
	}); err != nil {
		s.logger.Warn("notification dispatch failed", "user_id", userID, "kind", kind, "error", err)
	}
}

func statusSnapshot(status *model.BlacklistStatus) json.RawMessage {
	snap := map[string]any{
		"is_blacklisted":         status.IsBlacklisted,
		"consecutive_rejections": status.ConsecutiveRejections,
		"total_rejections":       status.TotalRejections,
		"total_approvals":        status.TotalApprovals,
		"warning_issued":         status.WarningIssued,
	}
	if status.BlacklistCategory != "" {
		snap["category"] = string(status.BlacklistCategory)
	}
	b, _ := json.Marshal(snap)
	return b
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Error("transaction rollback failed", "error", err)
	}
}
