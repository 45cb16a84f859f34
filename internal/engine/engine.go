// Package engine orchestrates itinerary mutations: bundle-aware reorders,
// cross-day moves, adds and deletes, with undo/redo and optimistic staging.
// In-memory effects (history + cache) are applied synchronously; the remote
// write is fire-and-forget and never rolls the optimistic state back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"itinsync/internal/cache"
	"itinsync/internal/history"
	"itinsync/internal/metrics"
	"itinsync/internal/model"
	"itinsync/internal/remote"
	"itinsync/internal/schedule"
)

var (
	// ErrReadOnly is returned when the caller lacks edit rights or the trip
	// is in simulation mode. The operation has no side effects.
	ErrReadOnly = errors.New("trip is read-only for this user")
	// ErrItemNotFound is returned when the target id is not in the day array.
	ErrItemNotFound = errors.New("item not found")
)

// Notifier receives committed mutation events for fan-out (live streams,
// webhooks). May be nil.
type Notifier interface {
	Notify(eventType string, data map[string]any)
}

// Session is a per-trip, per-user editing session. It is the unit the
// optimistic cache and undo history are scoped to; canonical data stays in
// the remote store.
type Session struct {
	TripID string
	UserID string

	Remote  remote.Store
	Cache   *cache.ItemCache
	Ripple  *schedule.Ripple
	Events  Notifier
	// WriteTimeout bounds each background remote write.
	WriteTimeout time.Duration
	// HistoryCap overrides the undo depth when > 0.
	HistoryCap int

	mu       sync.Mutex
	doc      model.TripDocument
	member   model.Member
	hist     *history.Stack[[]model.Item]
	histDate string
	wg       sync.WaitGroup
}

// NewSession loads the trip document, resolves the caller's membership and
// wires the persisted optimistic cache against the document's lastUpdate.
func NewSession(ctx context.Context, tripID, userID string, store remote.Store, c *cache.ItemCache, r *schedule.Ripple) (*Session, error) {
	doc, err := store.GetDocument(ctx, tripID)
	if err != nil {
		return nil, err
	}
	member, err := store.GetMember(ctx, tripID, userID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, err
	}
	c.Load(doc.LastUpdate)
	s := &Session{
		TripID:       tripID,
		UserID:       userID,
		Remote:       store,
		Cache:        c,
		Ripple:       r,
		WriteTimeout: 10 * time.Second,
		doc:          doc,
		member:       member,
	}
	return s, nil
}

// Refresh adopts a fresh remote snapshot: applies the live staleness guard,
// reconciles confirmed cache entries, and replaces the local document.
func (s *Session) Refresh(ctx context.Context) error {
	doc, err := s.Remote.GetDocument(ctx, s.TripID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	newer := doc.LastUpdate.After(s.doc.LastUpdate)
	s.doc = doc
	s.mu.Unlock()
	if newer {
		s.Cache.OnRemoteUpdate(doc.LastUpdate)
	}
	for _, date := range s.Cache.PendingDates() {
		s.Cache.Reconcile(date, doc.Itinerary[date])
	}
	return nil
}

// Day returns the merged optimistic view for one date. All structural
// operations work against this array, never a filtered or sorted view.
func (s *Session) Day(date string) []model.Item {
	s.mu.Lock()
	remoteDay := s.doc.Itinerary[date]
	s.mu.Unlock()
	return s.Cache.MergedDay(date, remoteDay)
}

// Days returns the merged view for every date present remotely or staged.
func (s *Session) Days() map[string][]model.Item {
	s.mu.Lock()
	dates := map[string]bool{}
	for d := range s.doc.Itinerary {
		dates[d] = true
	}
	s.mu.Unlock()
	for _, d := range s.Cache.PendingDates() {
		dates[d] = true
	}
	out := make(map[string][]model.Item, len(dates))
	for d := range dates {
		out[d] = s.Day(d)
	}
	return out
}

// Conflicts reports overlap/gap diagnostics for the date's time-sorted view.
func (s *Session) Conflicts(date string, gapThreshold int) []schedule.Conflict {
	return schedule.DetectConflicts(schedule.SortByTime(s.Day(date)), gapThreshold)
}

// Reorder moves itemID to toIndex within its day. toIndex addresses the
// array after the moved items are spliced out (drag-and-drop convention).
// Items sharing the dragged item's bundleId move as one block, preserving
// their relative order. With autoShift the ripple cascade re-times
// downstream items.
func (s *Session) Reorder(ctx context.Context, date, itemID string, toIndex int, autoShift bool) ([]model.Item, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	items := s.Day(date)
	idx := indexOf(items, itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}

	block := bundleIndexes(items, idx)
	moved := make([]model.Item, 0, len(block))
	for _, i := range block {
		moved = append(moved, items[i])
	}
	// splice out from highest index to lowest so positions stay valid
	rest := model.CloneItems(items)
	for i := len(block) - 1; i >= 0; i-- {
		rest = append(rest[:block[i]], rest[block[i]+1:]...)
	}
	dest := clamp(toIndex, 0, len(rest))
	next := make([]model.Item, 0, len(items))
	next = append(next, rest[:dest]...)
	next = append(next, moved...)
	next = append(next, rest[dest:]...)

	if autoShift && s.Ripple != nil {
		landed := indexOf(next, itemID)
		if res := s.Ripple.Plan(ctx, next, landed); res.ChangesNeeded {
			shifted := 0
			for i := range res.Items {
				if res.Items[i].Time != next[i].Time {
					shifted++
				}
			}
			metrics.RippleShifts.Observe(float64(shifted))
			next = res.Items
		}
	}

	desc := fmt.Sprintf("moved %q", items[idx].DisplayName())
	s.applyDay(date, next, "reorder", desc)
	s.commit(map[string][]model.Item{date: next}, "itinerary.reordered", date)
	return next, nil
}

// Move relocates an item to another date (or position). Both affected days
// are staged and written in the same remote update.
func (s *Session) Move(ctx context.Context, itemID, fromDate, toDate string, toIndex *int) error {
	if err := s.gate(); err != nil {
		return err
	}
	if fromDate == toDate {
		src := s.Day(fromDate)
		cur := indexOf(src, itemID)
		if cur < 0 {
			return ErrItemNotFound
		}
		dest := len(src) - 1
		if toIndex != nil {
			dest = *toIndex
		}
		if dest == cur {
			return nil
		}
		_, err := s.Reorder(ctx, fromDate, itemID, dest, false)
		return err
	}

	src := s.Day(fromDate)
	idx := indexOf(src, itemID)
	if idx < 0 {
		return ErrItemNotFound
	}
	item := src[idx].Clone()
	item.Date = toDate
	newSrc := append(model.CloneItems(src[:idx]), model.CloneItems(src[idx+1:])...)

	dst := s.Day(toDate)
	newDst := model.CloneItems(dst)
	if toIndex != nil {
		at := clamp(*toIndex, 0, len(newDst))
		newDst = append(newDst[:at], append([]model.Item{item}, newDst[at:]...)...)
	} else {
		newDst = append(newDst, item)
	}

	desc := fmt.Sprintf("moved %q to %s", item.DisplayName(), toDate)
	s.applyDay(toDate, newDst, "move", desc)
	s.Cache.StageDay(fromDate, newSrc)
	s.commit(map[string][]model.Item{fromDate: newSrc, toDate: newDst}, "itinerary.moved", toDate)
	return nil
}

// Add appends (or inserts) a new item on date, assigning an id when absent.
func (s *Session) Add(ctx context.Context, date string, item model.Item, toIndex *int) (model.Item, error) {
	if err := s.gate(); err != nil {
		return model.Item{}, err
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.Date = date
	if item.CreatedBy == "" {
		item.CreatedBy = s.UserID
	}
	day := s.Day(date)
	next := model.CloneItems(day)
	if toIndex != nil {
		at := clamp(*toIndex, 0, len(next))
		next = append(next[:at], append([]model.Item{item}, next[at:]...)...)
	} else {
		next = append(next, item)
	}
	desc := fmt.Sprintf("added %q", item.DisplayName())
	s.applyDay(date, next, "add", desc)
	s.commit(map[string][]model.Item{date: next}, "itinerary.added", date)
	return item, nil
}

// Delete removes itemID from date, leaving a tombstone in the cache until
// the remote confirms the deletion.
func (s *Session) Delete(ctx context.Context, date, itemID string) error {
	if err := s.gate(); err != nil {
		return err
	}
	day := s.Day(date)
	idx := indexOf(day, itemID)
	if idx < 0 {
		return ErrItemNotFound
	}
	desc := fmt.Sprintf("deleted %q", day[idx].DisplayName())
	next := append(model.CloneItems(day[:idx]), model.CloneItems(day[idx+1:])...)

	s.applyDay(date, next, "delete", desc)
	s.Cache.StageTombstone(date, itemID)
	s.commit(map[string][]model.Item{date: next}, "itinerary.deleted", date)
	return nil
}

// Undo restores the previous snapshot for date. Returns ok=false with no
// side effects when there is nothing to undo.
func (s *Session) Undo(ctx context.Context, date string) ([]model.Item, bool, error) {
	if err := s.gate(); err != nil {
		return nil, false, err
	}
	st := s.stackFor(date)
	restored, ok := st.Undo()
	if !ok {
		return nil, false, nil
	}
	// applying the snapshot goes through the normal path; the stack's
	// one-shot guard keeps it from recording itself
	s.applyDay(date, restored, "undo", "undo")
	s.commit(map[string][]model.Item{date: restored}, "itinerary.undone", date)
	return restored, true, nil
}

// Redo reverses the most recent Undo for date.
func (s *Session) Redo(ctx context.Context, date string) ([]model.Item, bool, error) {
	if err := s.gate(); err != nil {
		return nil, false, err
	}
	st := s.stackFor(date)
	restored, ok := st.Redo()
	if !ok {
		return nil, false, nil
	}
	s.applyDay(date, restored, "redo", "redo")
	s.commit(map[string][]model.Item{date: restored}, "itinerary.redone", date)
	return restored, true, nil
}

// History returns the action log for date.
func (s *Session) History(date string) []history.Action {
	return s.stackFor(date).Log()
}

// Wait blocks until all in-flight remote writes finish; tests only.
func (s *Session) Wait() { s.wg.Wait() }

// gate enforces the permission/read-only no-op rule.
func (s *Session) gate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Simulation {
		return ErrReadOnly
	}
	if !s.member.CanEdit() {
		return ErrReadOnly
	}
	return nil
}

// stackFor returns the undo stack for date, resetting when the session's
// active date changes: history does not span date switches.
func (s *Session) stackFor(date string) *history.Stack[[]model.Item] {
	s.mu.Lock()
	if s.hist != nil && s.histDate == date {
		h := s.hist
		s.mu.Unlock()
		return h
	}
	remoteDay := s.doc.Itinerary[date]
	s.mu.Unlock()
	seed := s.Cache.MergedDay(date, remoteDay)
	s.mu.Lock()
	s.hist = history.New(seed)
	s.hist.SetCap(s.HistoryCap)
	s.histDate = date
	h := s.hist
	s.mu.Unlock()
	return h
}

// applyDay records the new array and stages it optimistically.
func (s *Session) applyDay(date string, items []model.Item, actionType, desc string) {
	st := s.stackFor(date)
	st.Record(items, actionType, desc, date, len(items))
	s.Cache.StageDay(date, items)
}

// commit adopts the new arrays into the local snapshot immediately, then
// issues the remote partial-path write in the background. Failures are
// logged and the optimistic state is kept; the next remote snapshot is the
// authority either way.
func (s *Session) commit(days map[string][]model.Item, eventType, date string) {
	values := make(map[string]any, len(days))
	for d, items := range days {
		values["itinerary."+d] = model.CloneItems(items)
	}
	s.mu.Lock()
	if s.doc.Itinerary == nil {
		s.doc.Itinerary = map[string][]model.Item{}
	}
	for d, items := range days {
		if len(items) == 0 {
			delete(s.doc.Itinerary, d)
		} else {
			s.doc.Itinerary[d] = model.CloneItems(items)
		}
	}
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.WriteTimeout)
		defer cancel()
		ts, err := s.Remote.UpdatePaths(ctx, s.TripID, values)
		if err != nil {
			log.Printf("trip %s: remote write failed (optimistic state kept): %v", s.TripID, err)
			return
		}
		s.mu.Lock()
		if ts.After(s.doc.LastUpdate) {
			s.doc.LastUpdate = ts
		}
		s.mu.Unlock()
		for d := range days {
			s.Cache.Reconcile(d, days[d])
		}
		if s.Events != nil {
			s.Events.Notify(eventType, map[string]any{
				"tripId": s.TripID, "date": date, "userId": s.UserID, "ts": ts.UTC().Format(time.RFC3339),
			})
		}
	}()
}

// bundleIndexes returns the positions of every item sharing the bundle of
// the item at idx, in array order. A blank bundleId means just idx.
func bundleIndexes(items []model.Item, idx int) []int {
	bid := items[idx].BundleID()
	if bid == "" {
		return []int{idx}
	}
	out := []int{}
	for i := range items {
		if items[i].BundleID() == bid {
			out = append(out, i)
		}
	}
	return out
}

func indexOf(items []model.Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
