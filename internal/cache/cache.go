// Package cache implements the optimistic per-trip item cache: staged day
// arrays and tombstones overlaid on the remote itinerary until the remote
// document confirms the same state.
package cache

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"itinsync/internal/model"
)

const (
	// DefaultLoadSkew invalidates a persisted cache whose timestamp trails
	// the remote document's lastUpdate by more than this on load.
	DefaultLoadSkew = 5 * time.Second
	// DefaultLiveSkew clears the whole cache when a live remote update
	// arrives this much after the last local cache write.
	DefaultLiveSkew = 10 * time.Second

	keyPrefix = "itincache:"
)

// Clock is injectable so staleness rules are testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// payload is the persisted shape: {items, timestamp-in-millis}.
type payload struct {
	Items     map[string][]model.Item `json:"items"`
	Timestamp int64                   `json:"timestamp"`
}

// Options carries the two staleness windows. They are tuning knobs, not
// semantic requirements; load-time is stricter because there is no editing
// session in flight to protect.
type Options struct {
	LoadSkew time.Duration
	LiveSkew time.Duration
}

func (o Options) withDefaults() Options {
	if o.LoadSkew <= 0 {
		o.LoadSkew = DefaultLoadSkew
	}
	if o.LiveSkew <= 0 {
		o.LiveSkew = DefaultLiveSkew
	}
	return o
}

// ItemCache stages per-date item arrays and tombstones for one trip.
type ItemCache struct {
	tripID string
	kv     KeyValueStore
	clock  Clock
	opts   Options

	mu        sync.Mutex
	days      map[string][]model.Item
	lastWrite time.Time
}

// New builds an empty cache for tripID. Call Load to pick up a persisted
// payload from a previous session.
func New(tripID string, kv KeyValueStore, clock Clock, opts Options) *ItemCache {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ItemCache{
		tripID: tripID,
		kv:     kv,
		clock:  clock,
		opts:   opts.withDefaults(),
		days:   map[string][]model.Item{},
	}
}

func (c *ItemCache) key() string { return keyPrefix + c.tripID }

// Load reads the persisted payload. A remote lastUpdate more than LoadSkew
// newer than the payload timestamp means the remote has moved on; the stale
// optimism is dropped and the key removed.
func (c *ItemCache) Load(remoteLastUpdate time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.kv.Get(c.key())
	if !ok {
		return
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("cache %s: discarding unreadable payload: %v", c.tripID, err)
		_ = c.kv.Remove(c.key())
		return
	}
	written := time.UnixMilli(p.Timestamp)
	if remoteLastUpdate.Sub(written) > c.opts.LoadSkew {
		_ = c.kv.Remove(c.key())
		return
	}
	if p.Items == nil {
		p.Items = map[string][]model.Item{}
	}
	c.days = p.Items
	c.lastWrite = written
}

// StageDay replaces the staged array for date and re-persists.
func (c *ItemCache) StageDay(date string, items []model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days[date] = model.CloneItems(items)
	c.persistLocked()
}

// StageTombstone appends a deletion marker for id on date, dropping any
// staged copy of the item itself.
func (c *ItemCache) StageTombstone(date, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	day := c.days[date]
	out := make([]model.Item, 0, len(day)+1)
	for _, it := range day {
		if it.ID != id {
			out = append(out, it)
		}
	}
	out = append(out, model.Tombstone(id))
	c.days[date] = out
	c.persistLocked()
}

// OnRemoteUpdate applies the live staleness guard: a remote update arriving
// more than LiveSkew after the last cache write supersedes any pending local
// optimism, so the whole cache is cleared.
func (c *ItemCache) OnRemoteUpdate(remoteTS time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.days) == 0 {
		return
	}
	if remoteTS.Sub(c.lastWrite) > c.opts.LiveSkew {
		c.days = map[string][]model.Item{}
		c.persistLocked()
	}
}

// MergedDay overlays the staged entries on the remote array: remote order is
// kept, cached versions win by id, cache-only items are appended, and
// tombstoned ids are hidden. This merged view is what rendering and
// structural operations consume.
func (c *ItemCache) MergedDay(date string, remote []model.Item) []model.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	staged, ok := c.days[date]
	if !ok {
		return model.CloneItems(remote)
	}
	byID := make(map[string]model.Item, len(staged))
	deleted := map[string]bool{}
	for _, it := range staged {
		if it.Deleted {
			deleted[it.ID] = true
			continue
		}
		byID[it.ID] = it
	}
	out := make([]model.Item, 0, len(remote)+len(staged))
	seen := map[string]bool{}
	for _, it := range remote {
		if deleted[it.ID] {
			seen[it.ID] = true
			continue
		}
		if cached, ok := byID[it.ID]; ok {
			out = append(out, cached.Clone())
		} else {
			out = append(out, it.Clone())
		}
		seen[it.ID] = true
	}
	for _, it := range staged {
		if it.Deleted || seen[it.ID] {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}

// Reconcile drops staged entries the remote array now agrees with: an
// add/edit entry once its id is present remotely, a tombstone once its id is
// absent. Entries the remote has not caught up with keep overriding.
func (c *ItemCache) Reconcile(date string, remote []model.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	staged, ok := c.days[date]
	if !ok {
		return
	}
	present := make(map[string]bool, len(remote))
	for _, it := range remote {
		present[it.ID] = true
	}
	kept := staged[:0:0]
	for _, it := range staged {
		if it.Deleted {
			if present[it.ID] {
				kept = append(kept, it)
			}
			continue
		}
		if !present[it.ID] {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		delete(c.days, date)
	} else {
		c.days[date] = kept
	}
	c.persistLocked()
}

// Clear drops everything and removes the persisted key.
func (c *ItemCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days = map[string][]model.Item{}
	c.persistLocked()
}

// PendingDates lists dates with staged entries.
func (c *ItemCache) PendingDates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.days))
	for d := range c.days {
		out = append(out, d)
	}
	return out
}

// persistLocked writes the payload with a fresh timestamp, or removes the
// key entirely when nothing is staged.
func (c *ItemCache) persistLocked() {
	if len(c.days) == 0 {
		_ = c.kv.Remove(c.key())
		c.lastWrite = c.clock.Now()
		return
	}
	now := c.clock.Now()
	raw, err := json.Marshal(payload{Items: c.days, Timestamp: now.UnixMilli()})
	if err != nil {
		log.Printf("cache %s: persist failed: %v", c.tripID, err)
		return
	}
	if err := c.kv.Set(c.key(), raw); err != nil {
		log.Printf("cache %s: persist failed: %v", c.tripID, err)
		return
	}
	c.lastWrite = now
}
