package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"qline/ticket-service/internal/models"
)

// RedisNotifier publishes call events on a per-organization pub/sub
// channel for realtime subscribers (display boards, bot gateways).
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

type calledMsg struct {
	Type     string `json:"type"`
	OrgID    string `json:"org_id"`
	TicketID string `json:"ticket_id"`
	Number   int    `json:"number"`
	TsUnix   int64  `json:"ts_unix"`
}

func Channel(orgID string) string {
	return fmt.Sprintf("queue:%s:called", orgID)
}

func (n *RedisNotifier) TicketCalled(ctx context.Context, ticket models.Ticket) error {
	msg := calledMsg{
		Type:     "ticket.called",
		OrgID:    ticket.OrgID,
		TicketID: ticket.TicketID,
		Number:   ticket.Number,
		TsUnix:   time.Now().Unix(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, Channel(ticket.OrgID), body).Err()
}

// Subscribe delivers call events for one organization until ctx ends.
func (n *RedisNotifier) Subscribe(ctx context.Context, orgID string, handler func(ctx context.Context, ticketID string, number int)) error {
	sub := n.rdb.Subscribe(ctx, Channel(orgID))
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg calledMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil && msg.TicketID != "" {
				handler(ctx, msg.TicketID, msg.Number)
			}
		}
	}
}
