package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"itinsync/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	docs       map[string]model.TripDocument   // tripId -> document
	members    map[string]model.Member         // tripId|userId -> member
	subs       map[string][]model.Subscription // tripId -> subscriptions
	deliveries map[string]*memDelivery         // id -> delivery state
	order      []string                        // delivery ids in enqueue order
	// now is swappable for staleness tests
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs:       map[string]model.TripDocument{},
		members:    map[string]model.Member{},
		subs:       map[string][]model.Subscription{},
		deliveries: map[string]*memDelivery{},
		now:        time.Now,
	}
}

// SetClock overrides the server timestamp source; tests only.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) CreateTrip(ctx context.Context, doc model.TripDocument) (model.TripDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Itinerary == nil {
		doc.Itinerary = map[string][]model.Item{}
	}
	doc.LastUpdate = m.now().UTC()
	m.docs[doc.ID] = cloneDoc(doc)
	return doc, nil
}

func (m *Memory) GetDocument(ctx context.Context, tripID string) (model.TripDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[tripID]
	if !ok {
		return model.TripDocument{}, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) UpdatePaths(ctx context.Context, tripID string, values map[string]any) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[tripID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	for path, v := range values {
		switch {
		case strings.HasPrefix(path, "itinerary."):
			date := strings.TrimPrefix(path, "itinerary.")
			items, ok := v.([]model.Item)
			if !ok {
				return time.Time{}, fmt.Errorf("path %s: expected []model.Item", path)
			}
			if doc.Itinerary == nil {
				doc.Itinerary = map[string][]model.Item{}
			}
			if len(items) == 0 {
				delete(doc.Itinerary, date)
			} else {
				doc.Itinerary[date] = model.CloneItems(items)
			}
		case path == "name":
			s, ok := v.(string)
			if !ok {
				return time.Time{}, fmt.Errorf("path name: expected string")
			}
			doc.Name = s
		case path == "simulation":
			b, ok := v.(bool)
			if !ok {
				return time.Time{}, fmt.Errorf("path simulation: expected bool")
			}
			doc.Simulation = b
		default:
			return time.Time{}, fmt.Errorf("unsupported path: %s", path)
		}
	}
	doc.LastUpdate = m.now().UTC()
	m.docs[tripID] = doc
	return doc.LastUpdate, nil
}

func (m *Memory) GetMember(ctx context.Context, tripID, userID string) (model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[tripID+"|"+userID]
	if !ok {
		return model.Member{}, ErrNotFound
	}
	return mem, nil
}

func (m *Memory) UpsertMember(ctx context.Context, mem model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.TripID+"|"+mem.UserID] = mem
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TripID: req.TripID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TripID] = append(m.subs[req.TripID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tripID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs[tripID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tripID, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[tripID]
	start := 0
	if cursor != "" {
		for i := range list {
			if list[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	items := append([]model.Subscription(nil), list[start:end]...)
	next := ""
	if end < len(list) {
		next = list[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tripID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.subs[tripID]
	out := make([]model.Subscription, 0, len(arr))
	for _, s := range arr {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs[tripID] = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, tripID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TripID: tripID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}

func cloneDoc(doc model.TripDocument) model.TripDocument {
	out := doc
	out.Itinerary = make(map[string][]model.Item, len(doc.Itinerary))
	for d, items := range doc.Itinerary {
		out.Itinerary[d] = model.CloneItems(items)
	}
	return out
}
