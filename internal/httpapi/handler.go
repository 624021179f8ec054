// Package httpapi exposes the queue operations over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartqueue/internal/models"
	"smartqueue/internal/queue"
	"smartqueue/internal/service"
	"smartqueue/internal/store"
)

// Service is the orchestration surface the handler calls into.
type Service interface {
	RegisterParty(ctx context.Context, in service.RegisterPartyInput) (models.Party, error)
	Party(ctx context.Context, partyID string) (models.Party, error)
	PartyTokens(ctx context.Context, partyID string, date time.Time) ([]service.TokenView, error)

	GenerateToken(ctx context.Context, in service.GenerateTokenInput) (service.TokenView, error)
	Token(ctx context.Context, tokenID string) (service.TokenView, error)
	TokenByNumber(ctx context.Context, tokenNumber string, date time.Time) (service.TokenView, error)

	CallNext(ctx context.Context, pointID string) (service.TokenView, error)
	StartService(ctx context.Context, tokenID string) (service.TokenView, error)
	EndService(ctx context.Context, tokenID string) (service.TokenView, error)
	AbortActive(ctx context.Context, tokenID string) (service.TokenView, error)
	CancelToken(ctx context.Context, tokenID string) (service.TokenView, error)
	MarkNoShow(ctx context.Context, tokenID string) (service.TokenView, error)
	Skip(ctx context.Context, tokenID string) (service.TokenView, error)
	Reprioritize(ctx context.Context, tokenID, priority string) (service.TokenView, error)

	Snapshot(ctx context.Context, pointID string) (queue.Snapshot, error)
	CurrentServing(ctx context.Context, pointID string) (models.Token, bool, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/parties", h.handleParties)
	mux.HandleFunc("/api/parties/", h.handlePartySubtree)
	mux.HandleFunc("/api/tokens", h.handleTokens)
	mux.HandleFunc("/api/tokens/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tokens/by-number", h.handleTokenByNumber)
	mux.HandleFunc("/api/tokens/", h.handleTokenSubtree)
	mux.HandleFunc("/api/points/", h.handlePointSubtree)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerPartyRequest struct {
	FullName    string `json:"full_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	DateOfBirth string `json:"date_of_birth"`
	Expectant   bool   `json:"expectant"`
}

func (h *Handler) handleParties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerPartyRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)
	req.DateOfBirth = strings.TrimSpace(req.DateOfBirth)

	if req.FullName == "" || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "full_name and phone are required")
		return
	}
	if !isValidPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return
	}
	var dob time.Time
	if req.DateOfBirth != "" {
		parsed, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date_of_birth must be YYYY-MM-DD")
			return
		}
		dob = parsed
	}

	party, err := h.svc.RegisterParty(r.Context(), service.RegisterPartyInput{
		FullName:    req.FullName,
		Phone:       req.Phone,
		Email:       req.Email,
		DateOfBirth: dob,
		Expectant:   req.Expectant,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, party)
}

// handlePartySubtree serves /api/parties/{id} and /api/parties/{id}/tokens.
func (h *Handler) handlePartySubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(r.URL.Path, "/api/parties/")
	if len(parts) == 0 || !isValidUUID(parts[0]) {
		writeError(w, http.StatusBadRequest, "invalid_request", "party_id must be a UUID")
		return
	}
	partyID := parts[0]

	switch {
	case len(parts) == 1:
		party, err := h.svc.Party(r.Context(), partyID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, party)
	case len(parts) == 2 && parts[1] == "tokens":
		date, ok := parseDateQuery(w, r)
		if !ok {
			return
		}
		views, err := h.svc.PartyTokens(r.Context(), partyID, date)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, views)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type createTokenRequest struct {
	PartyID  string `json:"party_id"`
	GroupID  string `json:"group_id"`
	PointID  string `json:"point_id"`
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.PartyID = strings.TrimSpace(req.PartyID)
	req.GroupID = strings.TrimSpace(req.GroupID)
	req.PointID = strings.TrimSpace(req.PointID)
	req.Priority = strings.TrimSpace(req.Priority)

	if req.PartyID == "" || req.GroupID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "party_id and group_id are required")
		return
	}
	if !isValidUUID(req.PartyID) || !isValidUUID(req.GroupID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "party_id and group_id must be UUIDs")
		return
	}
	if req.PointID != "" && !isValidUUID(req.PointID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "point_id must be a UUID when provided")
		return
	}
	if req.Priority != "" && !isValidPriority(req.Priority) {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority must be one of NORMAL, VIP, SENIOR, EXPECTANT, EMERGENCY")
		return
	}

	view, err := h.svc.GenerateToken(r.Context(), service.GenerateTokenInput{
		PartyID:  req.PartyID,
		GroupID:  req.GroupID,
		PointID:  req.PointID,
		Priority: req.Priority,
		Notes:    req.Notes,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type callNextRequest struct {
	PointID string `json:"point_id"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.PointID = strings.TrimSpace(req.PointID)
	if req.PointID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "point_id is required")
		return
	}
	if !isValidUUID(req.PointID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "point_id must be a UUID")
		return
	}

	view, err := h.svc.CallNext(r.Context(), req.PointID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTokenByNumber(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	number := strings.TrimSpace(r.URL.Query().Get("number"))
	if number == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "number is required")
		return
	}
	date, ok := parseDateQuery(w, r)
	if !ok {
		return
	}
	view, err := h.svc.TokenByNumber(r.Context(), number, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleTokenSubtree serves /api/tokens/{id} and
// /api/tokens/{id}/actions/{action}.
func (h *Handler) handleTokenSubtree(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/tokens/")
	if len(parts) == 0 || !isValidUUID(parts[0]) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}
	tokenID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, err := h.svc.Token(r.Context(), tokenID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[2] {
	case "start":
		h.runAction(w, r, tokenID, h.svc.StartService)
	case "complete":
		h.runAction(w, r, tokenID, h.svc.EndService)
	case "abort":
		h.runAction(w, r, tokenID, h.svc.AbortActive)
	case "cancel":
		h.runAction(w, r, tokenID, h.svc.CancelToken)
	case "no-show":
		h.runAction(w, r, tokenID, h.svc.MarkNoShow)
	case "skip":
		h.runAction(w, r, tokenID, h.svc.Skip)
	case "reprioritize":
		h.handleReprioritize(w, r, tokenID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) runAction(w http.ResponseWriter, r *http.Request, tokenID string, action func(context.Context, string) (service.TokenView, error)) {
	view, err := action(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type reprioritizeRequest struct {
	Priority string `json:"priority"`
}

func (h *Handler) handleReprioritize(w http.ResponseWriter, r *http.Request, tokenID string) {
	var req reprioritizeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Priority = strings.TrimSpace(req.Priority)
	if req.Priority == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority is required")
		return
	}
	if !isValidPriority(req.Priority) {
		writeError(w, http.StatusBadRequest, "invalid_request", "priority must be one of NORMAL, VIP, SENIOR, EXPECTANT, EMERGENCY")
		return
	}

	view, err := h.svc.Reprioritize(r.Context(), tokenID, req.Priority)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handlePointSubtree serves /api/points/{id}/snapshot and
// /api/points/{id}/current.
func (h *Handler) handlePointSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := splitPath(r.URL.Path, "/api/points/")
	if len(parts) != 2 || !isValidUUID(parts[0]) {
		writeError(w, http.StatusBadRequest, "invalid_request", "point_id must be a UUID")
		return
	}
	pointID := parts[0]

	switch parts[1] {
	case "snapshot":
		snapshot, err := h.svc.Snapshot(r.Context(), pointID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case "current":
		token, found, err := h.svc.CurrentServing(r.Context(), pointID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		if !found {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, token)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func splitPath(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isValidPriority(value string) bool {
	_, ok := models.ScoreFor(value)
	return ok
}

// parseDateQuery reads an optional date=YYYY-MM-DD query parameter. A zero
// time means "today" downstream.
func parseDateQuery(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return parsed, true
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrPartyNotFound):
		return http.StatusNotFound, "party_not_found", "party not found"
	case errors.Is(err, store.ErrGroupNotFound):
		return http.StatusNotFound, "group_not_found", "service group not found"
	case errors.Is(err, store.ErrPointNotFound):
		return http.StatusNotFound, "point_not_found", "service point not found"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrPointUnavailable):
		return http.StatusConflict, "point_unavailable", "service point is not accepting tokens"
	case errors.Is(err, store.ErrDuplicatePhone):
		return http.StatusConflict, "duplicate_phone", "phone already registered"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "token state does not allow this action"
	case errors.Is(err, store.ErrInvalidPriority):
		return http.StatusBadRequest, "invalid_priority", "unknown priority class"
	case errors.Is(err, store.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "daily capacity reached for this service point"
	case errors.Is(err, store.ErrEmptyQueue):
		return http.StatusConflict, "queue_empty", "no tokens waiting"
	case errors.Is(err, store.ErrAlreadyServing):
		return http.StatusConflict, "already_serving", "a token is already being served at this point"
	case errors.Is(err, store.ErrContention):
		return http.StatusServiceUnavailable, "contention", "token allocation busy, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
