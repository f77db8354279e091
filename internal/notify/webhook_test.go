package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"qline/ticket-service/internal/models"
)

func TestWebhookNotifierPayload(t *testing.T) {
	var received map[string]interface{}
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhook(server.URL, "secret")
	err := n.TicketCalled(context.Background(), models.Ticket{
		TicketID: "t-1",
		OrgID:    "clinic-a",
		Number:   12,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	if auth != "Bearer secret" {
		t.Fatalf("authorization = %q", auth)
	}
	if received["type"] != "ticket.called" || received["org_id"] != "clinic-a" {
		t.Fatalf("payload = %v", received)
	}
	if received["number"].(float64) != 12 {
		t.Fatalf("number = %v", received["number"])
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhook(server.URL, "")
	if err := n.TicketCalled(context.Background(), models.Ticket{TicketID: "t-1"}); err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestChannelName(t *testing.T) {
	if got := Channel("clinic-a"); got != "queue:clinic-a:called" {
		t.Fatalf("channel = %q", got)
	}
}
