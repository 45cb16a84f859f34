package model

import "time"

// Item types accepted by the API.
var ItemTypes = map[string]struct{}{
	"spot": {}, "food": {}, "hotel": {}, "shopping": {},
	"transport": {}, "flight": {}, "walk": {}, "immigration": {},
}

// Item is one scheduled unit in a day's ordered array. Order in the array is
// drag order, not chronological order; the time-sorted view is derived.
type Item struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Time      string         `json:"time,omitempty"` // "HH:MM"
	Date      string         `json:"date,omitempty"` // YYYY-MM-DD, restamped on cross-day moves
	Details   map[string]any `json:"details,omitempty"`
	Cost      float64        `json:"cost,omitempty"`
	Currency  string         `json:"currency,omitempty"`
	CreatedBy string         `json:"createdBy,omitempty"`
	// Deleted marks a cache tombstone: locally deleted, awaiting remote confirmation.
	Deleted bool `json:"_deleted,omitempty"`
}

// Clone returns a copy whose Details map is independent of the original.
func (it Item) Clone() Item {
	out := it
	if it.Details != nil {
		out.Details = make(map[string]any, len(it.Details))
		for k, v := range it.Details {
			out.Details[k] = v
		}
	}
	return out
}

// BundleID returns the bundle key, or "" when the item is unbundled.
// details.bundleId is the canonical location.
func (it Item) BundleID() string {
	if it.Details == nil {
		return ""
	}
	if v, ok := it.Details["bundleId"].(string); ok {
		return v
	}
	return ""
}

// DurationMin returns details.duration in minutes, or 0 when absent.
// JSON decoding yields float64 for numbers; ints appear from in-process callers.
func (it Item) DurationMin() int {
	if it.Details == nil {
		return 0
	}
	switch v := it.Details["duration"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Place returns the best location string for directions lookups:
// details.location, falling back to details.name.
func (it Item) Place() string {
	if it.Details == nil {
		return ""
	}
	if v, ok := it.Details["location"].(string); ok && v != "" {
		return v
	}
	if v, ok := it.Details["name"].(string); ok {
		return v
	}
	return ""
}

// TransportType returns details.transportType, defaulting to "transit".
func (it Item) TransportType() string {
	if it.Details != nil {
		if v, ok := it.Details["transportType"].(string); ok && v != "" {
			return v
		}
	}
	return "transit"
}

// DisplayName returns a human-readable label for history descriptions.
func (it Item) DisplayName() string {
	if it.Details != nil {
		if v, ok := it.Details["name"].(string); ok && v != "" {
			return v
		}
	}
	if it.Type != "" {
		return it.Type
	}
	return it.ID
}

// Tombstone builds the cache marker that hides id pending remote deletion.
func Tombstone(id string) Item {
	return Item{ID: id, Deleted: true}
}

// CloneItems deep-copies a day array.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// TripDocument is the remote store's view of one trip.
type TripDocument struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Itinerary  map[string][]Item `json:"itinerary"` // date (YYYY-MM-DD) -> ordered items
	Simulation bool              `json:"simulation,omitempty"`
	LastUpdate time.Time         `json:"lastUpdate"`
}

// Member ties a user to a trip with a role: owner, editor or viewer.
type Member struct {
	TripID string `json:"tripId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// CanEdit reports whether the role allows structural mutations.
func (m Member) CanEdit() bool { return m.Role == "owner" || m.Role == "editor" }

// Mutation requests

type ReorderRequest struct {
	ItemID    string `json:"itemId"`
	ToIndex   int    `json:"toIndex"`
	AutoShift bool   `json:"autoShift,omitempty"`
	// AfterItemID maps a position in a sorted display list back to the
	// structural array; when set it wins over ToIndex.
	AfterItemID string `json:"afterItemId,omitempty"`
}

type MoveRequest struct {
	ItemID   string `json:"itemId"`
	FromDate string `json:"fromDate"`
	ToDate   string `json:"toDate"`
	ToIndex  *int   `json:"toIndex,omitempty"`
}

// Webhook subscriptions

type SubscriptionRequest struct {
	TripID string   `json:"tripId"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	TripID string   `json:"tripId"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
