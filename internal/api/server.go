// Package api exposes the HTTP surface of the system: workflow actions,
// blacklist administration, checkpoint scans and token operations.
// Authentication happens upstream; handlers trust the principal headers
// the session layer injects.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/blacklist"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/store"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/token"
	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/workflow"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Server wires the HTTP handlers to the domain services.
type Server struct {
	workflow  *workflow.Service
	blacklist *blacklist.Service
	tokens    *token.Service
	tokenRepo store.TokenRepository
	entryRepo store.VehicleEntryRepository
	logger    *slog.Logger
}

func NewServer(
	wf *workflow.Service,
	bl *blacklist.Service,
	tk *token.Service,
	tokenRepo store.TokenRepository,
	entryRepo store.VehicleEntryRepository,
	logger *slog.Logger,
) *Server {
	return &Server{
		workflow:  wf,
		blacklist: bl,
		tokens:    tk,
		tokenRepo: tokenRepo,
		entryRepo: entryRepo,
		logger:    logger.With("component", "api"),
	}
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/applications/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/applications/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/v1/applications/{id}/forward", s.handleForward)

	mux.HandleFunc("GET /api/v1/users/{id}/blacklist", s.handleCheckBlacklist)
	mux.HandleFunc("POST /api/v1/users/{id}/blacklist", s.handleManualBlacklist)
	mux.HandleFunc("DELETE /api/v1/users/{id}/blacklist", s.handleWhitelist)
	mux.HandleFunc("GET /api/v1/users/{id}/submission-eligibility", s.handleSubmissionEligibility)

	mux.HandleFunc("POST /api/v1/scans", s.handleScan)

	mux.HandleFunc("GET /api/v1/tokens/{number}", s.handleGetToken)
	mux.HandleFunc("GET /api/v1/tokens/{number}/entries", s.handleListEntries)
	mux.HandleFunc("POST /api/v1/tokens/{id}/share", s.handleShareToken)
	mux.HandleFunc("POST /api/v1/tokens/{id}/cancel", s.handleCancelToken)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// principalFromHeaders reads the authenticated caller the session layer
// injects. Missing or malformed headers fail the request with 401.
func principalFromHeaders(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	id, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		http.Error(w, `{"error":"missing or invalid X-User-ID header"}`, http.StatusUnauthorized)
		return model.Principal{}, false
	}
	userType := model.UserType(r.Header.Get("X-User-Type"))
	if userType != model.UserTypeApplicant && userType != model.UserTypeAuthority {
		http.Error(w, `{"error":"missing or invalid X-User-Type header"}`, http.StatusUnauthorized)
		return model.Principal{}, false
	}
	return model.Principal{
		ID:       id,
		Role:     model.AuthorityRole(r.Header.Get("X-User-Role")),
		UserType: userType,
	}, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, `{"error":"invalid `+name+`"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// writeDomainError maps known domain errors to HTTP statuses; anything
// unrecognized is a 500 with the detail kept in the log.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, workflow.ErrForbidden):
		http.Error(w, `{"error":"role not permitted for this action"}`, http.StatusForbidden)
	case errors.Is(err, workflow.ErrBlacklisted):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrInvalidTransition):
		http.Error(w, `{"error":"invalid application status for this action"}`, http.StatusConflict)
	case errors.Is(err, token.ErrAccessDenied):
		http.Error(w, `{"error":"access denied"}`, http.StatusForbidden)
	case errors.Is(err, token.ErrInvalidState):
		http.Error(w, `{"error":"token state does not permit this action"}`, http.StatusConflict)
	case errors.Is(err, blacklist.ErrNotBlacklisted):
		http.Error(w, `{"error":"user is not blacklisted"}`, http.StatusConflict)
	case errors.Is(err, store.ErrDuplicateToken):
		http.Error(w, `{"error":"token already issued for this phase"}`, http.StatusConflict)
	default:
		s.logger.Error(op+" failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
	}
}

// --- Workflow endpoints ---

type phaseQuotaRequest struct {
	PhaseNumber int    `json:"phase_number"`
	PhaseName   string `json:"phase_name"`
	Materials   []struct {
		MaterialType     string `json:"material_type"`
		MaterialName     string `json:"material_name"`
		ApprovedQuantity string `json:"approved_quantity"`
		Unit             string `json:"unit"`
	} `json:"materials"`
}

type approveRequest struct {
	Comments *string             `json:"comments"`
	Phases   []phaseQuotaRequest `json:"phases"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	appID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req approveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	phases := make([]token.PhaseQuota, 0, len(req.Phases))
	for _, p := range req.Phases {
		quotas := make([]model.MaterialQuota, 0, len(p.Materials))
		for _, m := range p.Materials {
			qty, err := decimal.NewFromString(m.ApprovedQuantity)
			if err != nil {
				http.Error(w, `{"error":"invalid approved_quantity"}`, http.StatusBadRequest)
				return
			}
			quotas = append(quotas, model.MaterialQuota{
				MaterialType:     m.MaterialType,
				MaterialName:     m.MaterialName,
				ApprovedQuantity: qty,
				Unit:             m.Unit,
			})
		}
		phases = append(phases, token.PhaseQuota{
			PhaseNumber: p.PhaseNumber,
			PhaseName:   p.PhaseName,
			Materials:   quotas,
		})
	}

	result, err := s.workflow.Approve(r.Context(), workflow.ApproveInput{
		ApplicationID: appID,
		Approver:      principal,
		Comments:      req.Comments,
		Phases:        phases,
	})
	if err != nil {
		s.writeDomainError(w, err, "approve")
		return
	}

	tokens := make([]tokenResponse, len(result.Tokens))
	for i := range result.Tokens {
		tokens[i] = toTokenResponse(&result.Tokens[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application_status": result.Application.Status,
		"tokens":             tokens,
	})
}

type rejectRequest struct {
	Reason   string  `json:"reason"`
	Category string  `json:"category"`
	Comments *string `json:"comments"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	appID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req rejectRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	outcome, err := s.workflow.Reject(r.Context(), workflow.RejectInput{
		ApplicationID: appID,
		Rejecter:      principal,
		Reason:        req.Reason,
		Category:      req.Category,
		Comments:      req.Comments,
	})
	if err != nil {
		s.writeDomainError(w, err, "reject")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type forwardRequest struct {
	NextStatus string  `json:"next_status"`
	Comments   *string `json:"comments"`
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	appID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req forwardRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.NextStatus == "" {
		http.Error(w, `{"error":"next_status is required"}`, http.StatusBadRequest)
		return
	}

	app, err := s.workflow.Forward(r.Context(), appID, principal, model.ApplicationStatus(req.NextStatus), req.Comments)
	if err != nil {
		s.writeDomainError(w, err, "forward")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application_number": app.ApplicationNumber,
		"status":             app.Status,
	})
}

// --- Blacklist endpoints ---

func (s *Server) handleCheckBlacklist(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	blocked, reason, err := s.blacklist.CheckBlacklist(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, err, "check blacklist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_blacklisted": blocked,
		"reason":         reason,
	})
}

type manualBlacklistRequest struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

func (s *Server) handleManualBlacklist(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	if principal.UserType != model.UserTypeAuthority {
		http.Error(w, `{"error":"authority role required"}`, http.StatusForbidden)
		return
	}
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req manualBlacklistRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	category := model.BlacklistCategoryManual
	if req.Category != "" {
		category = model.BlacklistCategory(req.Category)
	}

	record, err := s.blacklist.ManualBlacklist(r.Context(), userID, principal.ID, req.Reason, category)
	if err != nil {
		s.writeDomainError(w, err, "manual blacklist")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type whitelistRequest struct {
	Reason     string   `json:"reason"`
	Conditions []string `json:"conditions"`
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	if principal.UserType != model.UserTypeAuthority {
		http.Error(w, `{"error":"authority role required"}`, http.StatusForbidden)
		return
	}
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req whitelistRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	record, err := s.blacklist.WhitelistUser(r.Context(), userID, principal.ID, req.Reason, req.Conditions)
	if err != nil {
		s.writeDomainError(w, err, "whitelist")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSubmissionEligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	err := s.workflow.CheckSubmission(r.Context(), userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"eligible": true})
	case errors.Is(err, workflow.ErrBlacklisted):
		writeJSON(w, http.StatusOK, map[string]any{
			"eligible": false,
			"reason":   err.Error(),
		})
	default:
		s.writeDomainError(w, err, "submission eligibility")
	}
}

// --- Scan endpoint ---

type scanRequest struct {
	TokenNumber   string             `json:"token_number"`
	VehicleNumber string             `json:"vehicle_number"`
	DriverMobile  *string            `json:"driver_mobile"`
	MaterialType  string             `json:"material_type"`
	Quantity      string             `json:"quantity"`
	Unit          string             `json:"unit"`
	NakaLocation  string             `json:"naka_location"`
	Coordinates   *model.Coordinates `json:"coordinates"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}

	var req scanRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.TokenNumber == "" || req.VehicleNumber == "" || req.MaterialType == "" || req.NakaLocation == "" {
		http.Error(w, `{"error":"token_number, vehicle_number, material_type, and naka_location are required"}`, http.StatusBadRequest)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		http.Error(w, `{"error":"invalid quantity"}`, http.StatusBadRequest)
		return
	}

	result, err := s.tokens.ScanToken(r.Context(), token.ScanRequest{
		TokenNumber:   req.TokenNumber,
		VehicleNumber: req.VehicleNumber,
		DriverMobile:  req.DriverMobile,
		MaterialType:  req.MaterialType,
		Quantity:      qty,
		Unit:          req.Unit,
		NakaLocation:  req.NakaLocation,
		VerifiedBy:    principal.ID,
		Coordinates:   req.Coordinates,
	})
	if err != nil {
		s.writeDomainError(w, err, "scan")
		return
	}

	// Business-rule failures are 200s with valid=false; the scanner app
	// branches on the reason code, not the HTTP status.
	writeJSON(w, http.StatusOK, result)
}

// --- Token endpoints ---

type tokenResponse struct {
	ID          uuid.UUID             `json:"id"`
	TokenNumber string                `json:"token_number"`
	PhaseNumber int                   `json:"phase_number"`
	PhaseName   string                `json:"phase_name"`
	Status      model.TokenStatus     `json:"status"`
	Materials   []model.MaterialQuota `json:"materials"`
	ValidFrom   string                `json:"valid_from"`
	ValidUntil  string                `json:"valid_until"`
	UsageCount  int                   `json:"usage_count"`
}

func toTokenResponse(t *model.Token) tokenResponse {
	return tokenResponse{
		ID:          t.ID,
		TokenNumber: t.TokenNumber,
		PhaseNumber: t.PhaseNumber,
		PhaseName:   t.PhaseName,
		Status:      t.Status,
		Materials:   t.Materials,
		ValidFrom:   t.ValidFrom.Format("2006-01-02"),
		ValidUntil:  t.ValidUntil.Format("2006-01-02"),
		UsageCount:  t.UsageCount,
	}
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	t, err := s.tokenRepo.FindByNumber(r.Context(), number)
	if err != nil {
		s.writeDomainError(w, err, "get token")
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(t))
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	t, err := s.tokenRepo.FindByNumber(r.Context(), number)
	if err != nil {
		s.writeDomainError(w, err, "list entries")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := s.entryRepo.ListByToken(r.Context(), t.ID, limit)
	if err != nil {
		s.writeDomainError(w, err, "list entries")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type shareTokenRequest struct {
	DriverName    string `json:"driver_name"`
	DriverMobile  string `json:"driver_mobile"`
	VehicleNumber string `json:"vehicle_number"`
	ValidForHours int    `json:"valid_for_hours"`
	MaterialLimit *struct {
		MaterialType string `json:"material_type"`
		MaxQuantity  string `json:"max_quantity"`
	} `json:"material_limit"`
}

func (s *Server) handleShareToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	tokenID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req shareTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.DriverName == "" || req.DriverMobile == "" || req.VehicleNumber == "" {
		http.Error(w, `{"error":"driver_name, driver_mobile, and vehicle_number are required"}`, http.StatusBadRequest)
		return
	}

	var limit *model.MaterialLimit
	if req.MaterialLimit != nil {
		qty, err := decimal.NewFromString(req.MaterialLimit.MaxQuantity)
		if err != nil {
			http.Error(w, `{"error":"invalid max_quantity"}`, http.StatusBadRequest)
			return
		}
		limit = &model.MaterialLimit{
			MaterialType: req.MaterialLimit.MaterialType,
			MaxQuantity:  qty,
		}
	}

	share, err := s.tokens.ShareToken(r.Context(), token.ShareRequest{
		TokenID:       tokenID,
		Sharer:        principal,
		DriverName:    req.DriverName,
		DriverMobile:  req.DriverMobile,
		VehicleNumber: req.VehicleNumber,
		ValidForHours: req.ValidForHours,
		MaterialLimit: limit,
	})
	if err != nil {
		s.writeDomainError(w, err, "share token")
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

type cancelTokenRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancelToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromHeaders(w, r)
	if !ok {
		return
	}
	if principal.UserType != model.UserTypeAuthority {
		http.Error(w, `{"error":"authority role required"}`, http.StatusForbidden)
		return
	}
	tokenID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req cancelTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason is required"}`, http.StatusBadRequest)
		return
	}

	if err := s.tokens.CancelToken(r.Context(), tokenID, principal.ID, req.Reason); err != nil {
		s.writeDomainError(w, err, "cancel token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
