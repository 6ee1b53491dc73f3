// Package token implements the material-transport token ledger:
// issuance against an approved application, checkpoint scan validation
// with derived balances, driver delegation, cancellation and expiry.
//
// Remaining balance is never stored. It is derived per scan from the
// append-only vehicle entry ledger, inside the same transaction that
// holds the token row lock, so two concurrent scans cannot both pass the
// balance check against one remaining snapshot.
package token

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/metrics"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/notify"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
)

var (
	// ErrAccessDenied is returned when a caller tries to share a token
	// they do not own.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState is returned for operations against a token in a
	// state that does not permit them, such as cancelling an exhausted
	// token.
	ErrInvalidState = errors.New("invalid token state")
)

// DefaultValidityDays is the issuance validity window when none is
// configured.
const DefaultValidityDays = 60

// GeoFence is the optional bounding box for the checkpoint soft check.
// The zero value disables the check.
type GeoFence struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Enabled reports whether a bounding box is configured.
func (g GeoFence) Enabled() bool {
	return g != GeoFence{}
}

// Contains reports whether the fix falls inside the box.
func (g GeoFence) Contains(lat, lon float64) bool {
	return g.LatMin <= lat && lat <= g.LatMax && g.LonMin <= lon && lon <= g.LonMax
}

// Config is the ledger's process-wide immutable configuration, injected
// at construction and never read from ambient state inside the
// algorithms.
type Config struct {
	ValidityDays int
	GeoFence     GeoFence

	// ShareBindingEnforced makes the scan path verify the presenting
	// vehicle against active driver delegations whenever any exist for
	// the token. With no active shares the token may be presented
	// directly.
	ShareBindingEnforced bool

	// ShareBaseURL prefixes generated share links.
	ShareBaseURL string
}

// Service is the token ledger.
type Service struct {
	db       store.TxBeginner
	tokens   store.TokenRepository
	entries  store.VehicleEntryRepository
	shares   store.TokenShareRepository
	apps     store.ApplicationRepository
	users    store.UserRepository
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
}

func NewService(
	db store.TxBeginner,
	tokens store.TokenRepository,
	entries store.VehicleEntryRepository,
	shares store.TokenShareRepository,
	apps store.ApplicationRepository,
	users store.UserRepository,
	notifier notify.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.ValidityDays <= 0 {
		cfg.ValidityDays = DefaultValidityDays
	}
	if cfg.ShareBaseURL == "" {
		cfg.ShareBaseURL = "https://token.mountabu.gov.in/s"
	}
	return &Service{
		db:       db,
		tokens:   tokens,
		entries:  entries,
		shares:   shares,
		apps:     apps,
		users:    users,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "token"),
	}
}

// PhaseQuota is the issuance request for one construction phase.
type PhaseQuota struct {
	PhaseNumber int
	PhaseName   string
	Materials   []model.MaterialQuota
}

// TokenNumber derives the deterministic, human-readable token number for
// an application phase: TKN-{application number without APP- prefix}-P{n}.
// Determinism lets a repeated issuance attempt collide on the unique
// constraint instead of silently minting a second permit.
func TokenNumber(applicationNumber string, phase int) string {
	return fmt.Sprintf("TKN-%s-P%d", strings.TrimPrefix(applicationNumber, "APP-"), phase)
}

// IssueTokens creates one ACTIVE token per phase with an immutable quota
// list and a validity window of [now, now+validity]. Quota lists with
// duplicate material types are rejected at issuance. Token number
// collisions fail loudly with store.ErrDuplicateToken.
func (s *Service) IssueTokens(ctx context.Context, app *model.Application, issuedBy uuid.UUID, phases []PhaseQuota) ([]model.Token, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("no phases to issue")
	}
	for _, p := range phases {
		if err := model.ValidateQuotas(p.Materials); err != nil {
			return nil, fmt.Errorf("phase %d: %w", p.PhaseNumber, err)
		}
	}

	now := time.Now().UTC()
	validUntil := now.AddDate(0, 0, s.cfg.ValidityDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin issuance tx: %w", err)
	}
	defer rollback(tx, s.logger)

	tokens := make([]model.Token, 0, len(phases))
	for _, p := range phases {
		number := TokenNumber(app.ApplicationNumber, p.PhaseNumber)
		t := model.Token{
			TokenNumber:   number,
			ApplicationID: app.ID,
			PhaseNumber:   p.PhaseNumber,
			PhaseName:     p.PhaseName,
			Materials:     p.Materials,
			Status:        model.TokenStatusActive,
			ValidFrom:     now,
			ValidUntil:    validUntil,
			QRCodeData:    number,
			GeneratedBy:   issuedBy,
		}
		if err := s.tokens.InsertTx(ctx, tx, &t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit issuance tx: %w", err)
	}

	for range tokens {
		metrics.TokensIssued.Inc()
	}
	s.logger.Info("tokens issued",
		"application", app.ApplicationNumber,
		"count", len(tokens),
		"valid_until", validUntil,
	)
	return tokens, nil
}

// ScanReason tags every scan outcome. Business-rule failures are
// structured results, not errors; only infrastructure failures propagate
// as errors.
type ScanReason string

const (
	ScanOK                 ScanReason = "OK"
	ScanNotFound           ScanReason = "NOT_FOUND"
	ScanExpired            ScanReason = "EXPIRED"
	ScanCancelled          ScanReason = "CANCELLED"
	ScanInvalidPeriod      ScanReason = "INVALID_PERIOD"
	ScanInvalidMaterial    ScanReason = "INVALID_MATERIAL"
	ScanInvalidQuantity    ScanReason = "INVALID_QUANTITY"
	ScanExhausted          ScanReason = "EXHAUSTED"
	ScanShareMismatch      ScanReason = "SHARE_MISMATCH"
	ScanShareLimitExceeded ScanReason = "SHARE_LIMIT_EXCEEDED"
)

// ScanRequest is one checkpoint presentation.
type ScanRequest struct {
	TokenNumber   string
	VehicleNumber string
	DriverMobile  *string
	MaterialType  string
	Quantity      decimal.Decimal
	Unit          string
	NakaLocation  string
	VerifiedBy    uuid.UUID
	Coordinates   *model.Coordinates
}

// ScanResult is the well-formed outcome every scan returns.
type ScanResult struct {
	Valid   bool       `json:"valid"`
	Reason  ScanReason `json:"reason"`
	Message string     `json:"message"`

	TokenID *uuid.UUID `json:"token_id,omitempty"`
	EntryID *uuid.UUID `json:"entry_id,omitempty"`

	ApplicantName   string `json:"applicant_name,omitempty"`
	ApplicantMobile string `json:"applicant_mobile,omitempty"`
	PropertyAddress string `json:"property_address,omitempty"`

	PreviousBalance decimal.Decimal `json:"previous_balance"`
	EnteredQuantity decimal.Decimal `json:"entered_quantity"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

func failure(reason ScanReason, message string, tokenID *uuid.UUID) *ScanResult {
	metrics.ScansProcessed.WithLabelValues(string(reason)).Inc()
	return &ScanResult{Valid: false, Reason: reason, Message: message, TokenID: tokenID}
}

// ScanToken validates and records one checkpoint scan as a single
// transaction. The FOR UPDATE lock on the token row serializes
// concurrent scans: the second sees the first one's ledger entry before
// evaluating its own balance check, so a quota can never be oversold.
func (s *Service) ScanToken(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	start := time.Now()
	defer func() {
		metrics.ScanLatency.Observe(time.Since(start).Seconds())
	}()

	if !req.Quantity.IsPositive() {
		return failure(ScanInvalidQuantity, "Quantity must be positive", nil), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin scan tx: %w", err)
	}
	defer rollback(tx, s.logger)

	t, err := s.tokens.FindByNumberForUpdateTx(ctx, tx, req.TokenNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure(ScanNotFound, "Token not found", nil), nil
		}
		return nil, err
	}

	switch t.Status {
	case model.TokenStatusExpired:
		return failure(ScanExpired, "Token has expired", &t.ID), nil
	case model.TokenStatusCancelled:
		return failure(ScanCancelled, "Token has been cancelled", &t.ID), nil
	}

	// Validity is checked by date independently of the stored status, so
	// a stale ACTIVE token past its window is still rejected here.
	now := time.Now().UTC()
	if !t.WithinValidity(now) {
		return failure(ScanInvalidPeriod, "Token is not valid for current date", &t.ID), nil
	}

	// Geo-fence is a soft check only: out-of-bounds scans are logged and
	// counted but never rejected, so GPS noise at the edge of town cannot
	// block a legitimate delivery.
	if req.Coordinates != nil && s.cfg.GeoFence.Enabled() {
		if !s.cfg.GeoFence.Contains(req.Coordinates.Latitude, req.Coordinates.Longitude) {
			metrics.GeoFenceWarnings.Inc()
			s.logger.Warn("scan outside geo-fence",
				"token", t.TokenNumber,
				"lat", req.Coordinates.Latitude,
				"lon", req.Coordinates.Longitude,
			)
		}
	}

	vehicleNumber := strings.ToUpper(strings.TrimSpace(req.VehicleNumber))

	var matchedShare *model.TokenShare
	if s.cfg.ShareBindingEnforced {
		activeShares, err := s.shares.ListActiveByTokenTx(ctx, tx, t.ID)
		if err != nil {
			return nil, err
		}
		if len(activeShares) > 0 {
			for i := range activeShares {
				if strings.EqualFold(activeShares[i].VehicleNumber, vehicleNumber) {
					matchedShare = &activeShares[i]
					break
				}
			}
			if matchedShare == nil {
				return failure(ScanShareMismatch,
					fmt.Sprintf("Vehicle %s is not delegated for this token", vehicleNumber), &t.ID), nil
			}
			if limit := matchedShare.MaterialLimit; limit != nil {
				if limit.MaterialType != req.MaterialType {
					return failure(ScanShareLimitExceeded,
						fmt.Sprintf("Delegation only covers %s", limit.MaterialType), &t.ID), nil
				}
				if req.Quantity.GreaterThan(limit.MaxQuantity) {
					return failure(ScanShareLimitExceeded,
						fmt.Sprintf("Delegation caps this scan at %s %s", limit.MaxQuantity, req.Unit), &t.ID), nil
				}
			}
		}
	}

	quota, ok := model.FindQuota(t.Materials, req.MaterialType)
	if !ok {
		return failure(ScanInvalidMaterial,
			fmt.Sprintf("Material %s not found in token", req.MaterialType), &t.ID), nil
	}

	consumed, err := s.entries.SumByMaterialTx(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	remaining := quota.ApprovedQuantity.Sub(consumed[req.MaterialType])

	if req.Quantity.GreaterThan(remaining) {
		res := failure(ScanExhausted,
			fmt.Sprintf("Insufficient quantity. Remaining: %s %s", remaining, quota.Unit), &t.ID)
		res.PreviousBalance = remaining
		return res, nil
	}

	entry := model.VehicleEntry{
		TokenID:         t.ID,
		VehicleNumber:   vehicleNumber,
		DriverMobile:    req.DriverMobile,
		MaterialType:    req.MaterialType,
		MaterialName:    quota.MaterialName,
		Quantity:        req.Quantity,
		Unit:            req.Unit,
		NakaLocation:    req.NakaLocation,
		NakaCoordinates: req.Coordinates,
		VerifiedBy:      req.VerifiedBy,
	}
	if matchedShare != nil {
		entry.TokenShareID = &matchedShare.ID
	}
	if err := s.entries.InsertTx(ctx, tx, &entry); err != nil {
		return nil, err
	}
	if err := s.tokens.RecordUsageTx(ctx, tx, t.ID); err != nil {
		return nil, err
	}

	// Re-derive exhaustion across every material. The just-inserted row
	// may not be visible to a re-query at this isolation level, so the
	// in-flight quantity is added in memory instead of re-queried.
	if allMaterialsConsumed(t.Materials, consumed, req.MaterialType, req.Quantity) {
		if err := s.tokens.UpdateStatusTx(ctx, tx, t.ID, model.TokenStatusExhausted); err != nil {
			return nil, err
		}
		metrics.TokensExhausted.Inc()
	}

	if matchedShare != nil {
		if err := s.shares.MarkUsedTx(ctx, tx, matchedShare.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit scan tx: %w", err)
	}

	metrics.ScansProcessed.WithLabelValues(string(ScanOK)).Inc()
	s.logger.Info("token scanned",
		"token", t.TokenNumber,
		"naka", req.NakaLocation,
		"material", req.MaterialType,
		"quantity", req.Quantity,
	)

	res := &ScanResult{
		Valid:           true,
		Reason:          ScanOK,
		TokenID:         &t.ID,
		EntryID:         &entry.ID,
		PreviousBalance: remaining,
		EnteredQuantity: req.Quantity,
		NewBalance:      remaining.Sub(req.Quantity),
	}
	s.attachApplicantContext(ctx, t, res)
	return res, nil
}

// allMaterialsConsumed reports whether every quota on the token is fully
// consumed once the in-flight quantity for scannedMaterial is included.
func allMaterialsConsumed(quotas []model.MaterialQuota, consumed map[string]decimal.Decimal, scannedMaterial string, scannedQuantity decimal.Decimal) bool {
	for _, q := range quotas {
		total := consumed[q.MaterialType]
		if q.MaterialType == scannedMaterial {
			total = total.Add(scannedQuantity)
		}
		if total.LessThan(q.ApprovedQuantity) {
			return false
		}
	}
	return true
}

// attachApplicantContext fills the checkpoint display fields. Lookup
// failures degrade the display only; the recorded scan stands.
func (s *Service) attachApplicantContext(ctx context.Context, t *model.Token, res *ScanResult) {
	app, err := s.apps.FindByID(ctx, t.ApplicationID)
	if err != nil {
		s.logger.Warn("application lookup for scan context failed", "token", t.TokenNumber, "error", err)
		return
	}
	res.PropertyAddress = app.PropertyAddress
	applicant, err := s.users.FindByID(ctx, app.ApplicantID)
	if err != nil {
		s.logger.Warn("applicant lookup for scan context failed", "token", t.TokenNumber, "error", err)
		return
	}
	res.ApplicantName = applicant.Name
	res.ApplicantMobile = applicant.Mobile
}

// ShareRequest creates a driver delegation for a token.
type ShareRequest struct {
	TokenID       uuid.UUID
	Sharer        model.Principal
	DriverName    string
	DriverMobile  string
	VehicleNumber string
	ValidForHours int
	MaterialLimit *model.MaterialLimit
}

// ShareToken creates a time-boxed, optionally material-capped delegation
// allowing a named driver and vehicle to present the token. Only the
// owning applicant or an authority may share.
func (s *Service) ShareToken(ctx context.Context, req ShareRequest) (*model.TokenShare, error) {
	t, err := s.tokens.FindByID(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}

	if req.Sharer.UserType == model.UserTypeApplicant {
		app, err := s.apps.FindByID(ctx, t.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app.ApplicantID != req.Sharer.ID {
			return nil, ErrAccessDenied
		}
	}

	validForHours := req.ValidForHours
	if validForHours <= 0 {
		validForHours = 24
	}

	code, err := shareCode()
	if err != nil {
		return nil, err
	}

	share := &model.TokenShare{
		TokenID:       t.ID,
		SharedBy:      req.Sharer.ID,
		DriverName:    req.DriverName,
		DriverMobile:  req.DriverMobile,
		VehicleNumber: strings.ToUpper(strings.TrimSpace(req.VehicleNumber)),
		ShareCode:     code,
		ShareLink:     fmt.Sprintf("%s/%s", s.cfg.ShareBaseURL, code),
		MaterialLimit: req.MaterialLimit,
		ValidUntil:    time.Now().UTC().Add(time.Duration(validForHours) * time.Hour),
		Status:        model.TokenShareStatusActive,
	}
	if err := s.shares.Insert(ctx, share); err != nil {
		return nil, err
	}

	metrics.TokensShared.Inc()
	s.logger.Info("token shared",
		"token", t.TokenNumber,
		"driver", req.DriverName,
		"vehicle", share.VehicleNumber,
	)

	if err := s.notifier.Send(ctx, notify.Notification{
		Kind:            notify.KindTokenShared,
		RecipientMobile: req.DriverMobile,
		Message: fmt.Sprintf("Token %s has been shared with you for vehicle %s. Link: %s",
			t.TokenNumber, share.VehicleNumber, share.ShareLink),
	}); err != nil {
		s.logger.Warn("share notification failed", "token", t.TokenNumber, "error", err)
	} else {
		share.SMSSent = true
	}

	return share, nil
}

// CancelToken moves a PENDING or ACTIVE token to CANCELLED. Terminal
// states are final: cancelling an exhausted, expired or already
// cancelled token fails with ErrInvalidState.
func (s *Service) CancelToken(ctx context.Context, tokenID, cancelledBy uuid.UUID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer rollback(tx, s.logger)

	if err := s.tokens.MarkCancelledTx(ctx, tx, tokenID, cancelledBy, reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Distinguish a missing token from one in a terminal state.
			if _, findErr := s.tokens.FindByID(ctx, tokenID); findErr == nil {
				return ErrInvalidState
			}
			return store.ErrNotFound
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}

	s.logger.Info("token cancelled", "token_id", tokenID, "cancelled_by", cancelledBy)
	return nil
}

// ExpireOverdue sweeps ACTIVE tokens past their validity window into
// EXPIRED and returns how many were updated.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.tokens.ExpireOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("tokens expired", "count", n)
	}
	return n, nil
}

func shareCode() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate share code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func rollback(tx *sql.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logger.Error("transaction rollback failed", "error", err)
	}
}
