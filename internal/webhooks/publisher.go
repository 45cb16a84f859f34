package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"itinsync/internal/remote"
)

type Publisher struct {
	Store remote.Store
}

func NewPublisher(s remote.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues a delivery for every subscription matching the trip and
// event type. Enqueue failures are dropped; delivery is best effort.
func (p *Publisher) Emit(ctx context.Context, tripID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tripID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":     fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":   eventType,
		"tripId": tripID,
		"ts":     time.Now().UTC().Format(time.RFC3339),
		"data":   data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, tripID, s.ID, eventType, s.URL, s.Secret, body)
	}
}
