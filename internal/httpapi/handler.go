package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"qline/ticket-service/internal/models"
	"qline/ticket-service/internal/queue"
	"qline/ticket-service/internal/store"

	"github.com/google/uuid"
)

// Queue is the slice of the engine the HTTP layer needs.
type Queue interface {
	Issue(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error)
	Snapshot(ctx context.Context, orgID string, ticketNumber int) (queue.Snapshot, error)
	ListActive(ctx context.Context, orgID string) ([]models.Ticket, error)
	Advance(ctx context.Context, orgID string) (queue.AdvanceResult, error)
	Skip(ctx context.Context, orgID, ticketID string) (models.Ticket, error)
	Serve(ctx context.Context, orgID, ticketID string) (models.Ticket, error)
	Reset(ctx context.Context, orgID string) (int, error)
	CancelByNumber(ctx context.Context, orgID string, number int) (bool, error)
}

type Handler struct {
	queue      Queue
	adminToken string
}

type Options struct {
	AdminToken string
}

func NewHandler(q Queue, options Options) *Handler {
	return &Handler{
		queue:      q,
		adminToken: options.AdminToken,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleIssueTicket)
	mux.HandleFunc("/api/tickets/actions/cancel", h.handleCancel)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/queue/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/queue/tickets", h.handleListTickets)
	mux.HandleFunc("/api/queue/actions/advance", h.handleAdvance)
	mux.HandleFunc("/api/queue/actions/reset", h.handleReset)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type issueTicketRequest struct {
	OrgID          string `json:"org_id"`
	RequestID      string `json:"request_id"`
	DisplayName    string `json:"display_name"`
	Channel        string `json:"channel"`
	ExternalUserID string `json:"external_user_id"`
}

func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.OrgID = strings.TrimSpace(req.OrgID)
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.OrgID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "org_id is required")
		return
	}
	if !isValidOrgID(req.OrgID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "org_id must be 1-64 characters of [A-Za-z0-9_-]")
		return
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}

	result, err := h.queue.Issue(r.Context(), queue.IssueInput{
		OrgID:          req.OrgID,
		RequestID:      req.RequestID,
		DisplayName:    req.DisplayName,
		Channel:        req.Channel,
		ExternalUserID: req.ExternalUserID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" || !isValidOrgID(orgID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "org_id is required")
		return
	}

	number := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("number")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "number must be a positive integer")
			return
		}
		number = parsed
	}

	snapshot, err := h.queue.Snapshot(r.Context(), orgID, number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" || !isValidOrgID(orgID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "org_id is required")
		return
	}

	tickets, err := h.queue.ListActive(r.Context(), orgID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}

	writeJSON(w, http.StatusOK, tickets)
}

type orgActionRequest struct {
	OrgID string `json:"org_id"`
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	req, ok := decodeOrgAction(w, r)
	if !ok {
		return
	}

	result, err := h.queue.Advance(r.Context(), req.OrgID)
	if err != nil {
		if errors.Is(err, queue.ErrNoPendingTicket) {
			writeError(w, "", http.StatusConflict, "queue_empty", "no pending tickets to advance")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	req, ok := decodeOrgAction(w, r)
	if !ok {
		return
	}

	count, err := h.queue.Reset(r.Context(), req.OrgID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"cancelled_count": count})
}

type cancelRequest struct {
	OrgID  string `json:"org_id"`
	Number int    `json:"number"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	if req.OrgID == "" || !isValidOrgID(req.OrgID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "org_id is required")
		return
	}
	if req.Number <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "number must be a positive integer")
		return
	}

	cancelled, err := h.queue.CancelByNumber(r.Context(), req.OrgID, req.Number)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticketID := parts[0]
	action := parts[2]
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	req, ok := decodeOrgAction(w, r)
	if !ok {
		return
	}

	var ticket models.Ticket
	var err error
	switch action {
	case "skip":
		ticket, err = h.queue.Skip(r.Context(), req.OrgID, ticketID)
	case "serve":
		ticket, err = h.queue.Serve(r.Context(), req.OrgID, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func decodeOrgAction(w http.ResponseWriter, r *http.Request) (orgActionRequest, bool) {
	var req orgActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return orgActionRequest{}, false
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	if req.OrgID == "" || !isValidOrgID(req.OrgID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "org_id is required")
		return orgActionRequest{}, false
	}
	return req, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidOrgID(value string) bool {
	if len(value) == 0 || len(value) > 64 {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidOrganization):
		return http.StatusNotFound, "org_not_found", "organization not found"
	case errors.Is(err, queue.ErrValidation):
		return http.StatusBadRequest, "invalid_request", "invalid request"
	case errors.Is(err, queue.ErrNoPendingTicket):
		return http.StatusConflict, "queue_empty", "no pending tickets to advance"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict_retry", "queue is busy, retry the request"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
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
