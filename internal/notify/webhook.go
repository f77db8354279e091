package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"qline/ticket-service/internal/models"
)

// WebhookNotifier POSTs call events to an external delivery service
// (chat-bot gateway, SMS bridge, display board).
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhook(url, token string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) TicketCalled(ctx context.Context, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"type":             "ticket.called",
		"org_id":           ticket.OrgID,
		"ticket_id":        ticket.TicketID,
		"number":           ticket.Number,
		"display_name":     ticket.DisplayName,
		"channel":          ticket.Channel,
		"external_user_id": ticket.ExternalUserID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
