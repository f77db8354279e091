package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"qline/ticket-service/internal/models"
	"qline/ticket-service/internal/queue"

	"github.com/google/uuid"
)

type fakeQueue struct {
	issueFn    func(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error)
	snapshotFn func(ctx context.Context, orgID string, ticketNumber int) (queue.Snapshot, error)
	listFn     func(ctx context.Context, orgID string) ([]models.Ticket, error)
	advanceFn  func(ctx context.Context, orgID string) (queue.AdvanceResult, error)
	skipFn     func(ctx context.Context, orgID, ticketID string) (models.Ticket, error)
	serveFn    func(ctx context.Context, orgID, ticketID string) (models.Ticket, error)
	resetFn    func(ctx context.Context, orgID string) (int, error)
	cancelFn   func(ctx context.Context, orgID string, number int) (bool, error)
}

func (f *fakeQueue) Issue(ctx context.Context, input queue.IssueInput) (queue.IssueResult, error) {
	return f.issueFn(ctx, input)
}

func (f *fakeQueue) Snapshot(ctx context.Context, orgID string, ticketNumber int) (queue.Snapshot, error) {
	return f.snapshotFn(ctx, orgID, ticketNumber)
}

func (f *fakeQueue) ListActive(ctx context.Context, orgID string) ([]models.Ticket, error) {
	return f.listFn(ctx, orgID)
}

func (f *fakeQueue) Advance(ctx context.Context, orgID string) (queue.AdvanceResult, error) {
	return f.advanceFn(ctx, orgID)
}

func (f *fakeQueue) Skip(ctx context.Context, orgID, ticketID string) (models.Ticket, error) {
	return f.skipFn(ctx, orgID, ticketID)
}

func (f *fakeQueue) Serve(ctx context.Context, orgID, ticketID string) (models.Ticket, error) {
	return f.serveFn(ctx, orgID, ticketID)
}

func (f *fakeQueue) Reset(ctx context.Context, orgID string) (int, error) {
	return f.resetFn(ctx, orgID)
}

func (f *fakeQueue) CancelByNumber(ctx context.Context, orgID string, number int) (bool, error) {
	return f.cancelFn(ctx, orgID, number)
}

const testAdminToken = "test-admin-token"

func doRequest(h *Handler, method, target, body string, admin bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	if admin {
		req.Header.Set("X-Admin-Token", testAdminToken)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return payload.Error.Code
}

func TestIssueTicketEndpoint(t *testing.T) {
	fq := &fakeQueue{
		issueFn: func(_ context.Context, input queue.IssueInput) (queue.IssueResult, error) {
			if input.OrgID != "clinic-a" || input.DisplayName != "Ana" {
				t.Fatalf("unexpected input %+v", input)
			}
			return queue.IssueResult{
				Ticket:     models.Ticket{TicketID: uuid.NewString(), OrgID: input.OrgID, Number: 7, Status: models.StatusWaiting},
				NowServing: 3,
				LastNumber: 7,
			}, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/tickets", `{"org_id":"clinic-a","display_name":"Ana"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result queue.IssueResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Ticket.Number != 7 || result.NowServing != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestIssueTicketValidation(t *testing.T) {
	h := NewHandler(&fakeQueue{}, Options{AdminToken: testAdminToken})

	cases := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{`, "invalid_json"},
		{"unknown field", `{"org_id":"a","extra":1}`, "invalid_json"},
		{"missing org", `{"display_name":"Ana"}`, "invalid_request"},
		{"bad org characters", `{"org_id":"a b!"}`, "invalid_request"},
		{"bad request id", `{"org_id":"a","request_id":"not-a-uuid"}`, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/api/tickets", tc.body, false)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := errorCode(t, rec); got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestIssueTicketUnknownOrg(t *testing.T) {
	fq := &fakeQueue{
		issueFn: func(context.Context, queue.IssueInput) (queue.IssueResult, error) {
			return queue.IssueResult{}, queue.ErrInvalidOrganization
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/tickets", `{"org_id":"ghost"}`, false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := errorCode(t, rec); got != "org_not_found" {
		t.Fatalf("code = %q, want org_not_found", got)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	eta := int64(120)
	fq := &fakeQueue{
		snapshotFn: func(_ context.Context, orgID string, number int) (queue.Snapshot, error) {
			if orgID != "clinic-a" || number != 4 {
				t.Fatalf("orgID=%q number=%d", orgID, number)
			}
			return queue.Snapshot{OrgID: orgID, NowServing: 2, LastNumber: 6, ETASeconds: &eta}, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodGet, "/api/queue/snapshot?org_id=clinic-a&number=4", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var snap queue.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.NowServing != 2 || snap.ETASeconds == nil || *snap.ETASeconds != 120 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSnapshotBadNumber(t *testing.T) {
	h := NewHandler(&fakeQueue{}, Options{AdminToken: testAdminToken})
	rec := doRequest(h, http.MethodGet, "/api/queue/snapshot?org_id=clinic-a&number=zero", "", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	h := NewHandler(&fakeQueue{}, Options{AdminToken: testAdminToken})

	targets := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodPost, "/api/queue/actions/advance", `{"org_id":"clinic-a"}`},
		{http.MethodPost, "/api/queue/actions/reset", `{"org_id":"clinic-a"}`},
		{http.MethodGet, "/api/queue/tickets?org_id=clinic-a", ""},
		{http.MethodPost, "/api/tickets/" + uuid.NewString() + "/actions/skip", `{"org_id":"clinic-a"}`},
		{http.MethodPost, "/api/tickets/" + uuid.NewString() + "/actions/serve", `{"org_id":"clinic-a"}`},
	}
	for _, tc := range targets {
		rec := doRequest(h, tc.method, tc.target, tc.body, false)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: status = %d, want 401", tc.method, tc.target, rec.Code)
		}
	}
}

func TestAdvanceEndpoint(t *testing.T) {
	fq := &fakeQueue{
		advanceFn: func(_ context.Context, orgID string) (queue.AdvanceResult, error) {
			return queue.AdvanceResult{CurrentServed: 4, NowServing: 5, LastNumber: 9}, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/queue/actions/advance", `{"org_id":"clinic-a"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result queue.AdvanceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.NowServing != 5 {
		t.Fatalf("result = %+v", result)
	}
}

func TestAdvanceEmptyQueueEndpoint(t *testing.T) {
	fq := &fakeQueue{
		advanceFn: func(context.Context, string) (queue.AdvanceResult, error) {
			return queue.AdvanceResult{}, queue.ErrNoPendingTicket
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/queue/actions/advance", `{"org_id":"clinic-a"}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := errorCode(t, rec); got != "queue_empty" {
		t.Fatalf("code = %q, want queue_empty", got)
	}
}

func TestTicketActionRouting(t *testing.T) {
	ticketID := uuid.NewString()
	fq := &fakeQueue{
		skipFn: func(_ context.Context, orgID, id string) (models.Ticket, error) {
			if id != ticketID || orgID != "clinic-a" {
				t.Fatalf("skip(%q, %q)", orgID, id)
			}
			return models.Ticket{TicketID: id, Number: 3, Status: models.StatusMissed}, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/skip", `{"org_id":"clinic-a"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ticket models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ticket.Status != models.StatusMissed {
		t.Fatalf("ticket = %+v", ticket)
	}

	rec = doRequest(h, http.MethodPost, "/api/tickets/not-a-uuid/actions/skip", `{"org_id":"clinic-a"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}

	rec = doRequest(h, http.MethodPost, "/api/tickets/"+ticketID+"/actions/unknown", `{"org_id":"clinic-a"}`, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown action status = %d, want 404", rec.Code)
	}
}

func TestResetEndpoint(t *testing.T) {
	fq := &fakeQueue{
		resetFn: func(_ context.Context, orgID string) (int, error) {
			return 5, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/queue/actions/reset", `{"org_id":"clinic-a"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["cancelled_count"] != 5 {
		t.Fatalf("payload = %v", payload)
	}
}

func TestCancelEndpoint(t *testing.T) {
	fq := &fakeQueue{
		cancelFn: func(_ context.Context, orgID string, number int) (bool, error) {
			return number == 3, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodPost, "/api/tickets/actions/cancel", `{"org_id":"clinic-a","number":3}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"cancelled":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = doRequest(h, http.MethodPost, "/api/tickets/actions/cancel", `{"org_id":"clinic-a","number":9}`, false)
	if !strings.Contains(rec.Body.String(), `"cancelled":false`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = doRequest(h, http.MethodPost, "/api/tickets/actions/cancel", `{"org_id":"clinic-a","number":0}`, false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero number status = %d, want 400", rec.Code)
	}
}

func TestListTicketsEndpoint(t *testing.T) {
	fq := &fakeQueue{
		listFn: func(_ context.Context, orgID string) ([]models.Ticket, error) {
			return []models.Ticket{{Number: 4, Status: models.StatusWaiting}}, nil
		},
	}
	h := NewHandler(fq, Options{AdminToken: testAdminToken})

	rec := doRequest(h, http.MethodGet, "/api/queue/tickets?org_id=clinic-a", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var tickets []models.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &tickets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Number != 4 {
		t.Fatalf("tickets = %+v", tickets)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeQueue{}, Options{AdminToken: testAdminToken})
	rec := doRequest(h, http.MethodGet, "/api/tickets", "", false)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
