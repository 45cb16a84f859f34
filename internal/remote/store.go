// Package remote abstracts the shared trip document store: whole-document
// reads, partial-path writes with a server-side lastUpdate, membership, and
// the webhook delivery queue.
package remote

import (
	"context"
	"errors"
	"time"

	"itinsync/internal/model"
)

// Store is the persistence interface used by the engine and the API server.
// Writes are last-write-wins; lastUpdate is set server-side on every write.
type Store interface {
	// Trip documents
	CreateTrip(ctx context.Context, doc model.TripDocument) (model.TripDocument, error)
	GetDocument(ctx context.Context, tripID string) (model.TripDocument, error)
	// UpdatePaths applies a partial update, e.g. {"itinerary.2026-05-02": items},
	// in one write and returns the new server lastUpdate. Supported paths:
	// itinerary.<date> ([]model.Item), name (string), simulation (bool).
	UpdatePaths(ctx context.Context, tripID string, values map[string]any) (time.Time, error)

	// Membership
	GetMember(ctx context.Context, tripID, userID string) (model.Member, error)
	UpsertMember(ctx context.Context, m model.Member) error

	// Webhook subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tripID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tripID, cursor string, limit int) ([]model.Subscription, string, error)
	DeleteSubscription(ctx context.Context, tripID, id string) error

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, tripID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// UpdatePath is the single-path convenience over Store.UpdatePaths.
func UpdatePath(ctx context.Context, s Store, tripID, path string, value any) (time.Time, error) {
	return s.UpdatePaths(ctx, tripID, map[string]any{path: value})
}

var ErrNotFound = errors.New("not found")
