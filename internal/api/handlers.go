package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"itinsync/internal/engine"
	"itinsync/internal/metrics"
	"itinsync/internal/model"
	"itinsync/internal/remote"
)

// TripsHandler handles POST /v1/trips
func (s *Server) TripsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name       string                  `json:"name"`
		Itinerary  map[string][]model.Item `json:"itinerary,omitempty"`
		Simulation bool                    `json:"simulation,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	for date, items := range req.Itinerary {
		if err := validateDate(date); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid itinerary", err.Error(), r.URL.Path)
			return
		}
		for i := range items {
			if err := validateItem(&items[i]); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid item", err.Error(), r.URL.Path)
				return
			}
		}
	}
	p := s.getPrincipal(r)
	doc, err := s.Store.CreateTrip(r.Context(), model.TripDocument{
		Name: req.Name, Itinerary: req.Itinerary, Simulation: req.Simulation,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create trip failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.UpsertMember(r.Context(), model.Member{TripID: doc.ID, UserID: p.UserID, Role: "owner"}); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create trip failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// TripByIDHandler dispatches everything under /v1/trips/{id}/...
func (s *Server) TripByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/trips/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	tripID := parts[0]
	sub := parts[1:]

	switch {
	case len(sub) == 0:
		s.handleTripDoc(w, r, tripID)
	case sub[0] == "itinerary" && len(sub) == 1:
		s.handleItinerary(w, r, tripID)
	case sub[0] == "days" && len(sub) >= 2:
		s.handleDay(w, r, tripID, sub[1], sub[2:])
	case sub[0] == "items" && len(sub) == 2 && sub[1] == "move":
		s.handleMove(w, r, tripID)
	case sub[0] == "undo" && len(sub) == 1:
		s.handleUndoRedo(w, r, tripID, false)
	case sub[0] == "redo" && len(sub) == 1:
		s.handleUndoRedo(w, r, tripID, true)
	case sub[0] == "history" && len(sub) == 1:
		s.handleHistory(w, r, tripID)
	case sub[0] == "members" && len(sub) == 1:
		s.handleMembers(w, r, tripID)
	case sub[0] == "events" && len(sub) == 2 && sub[1] == "stream":
		s.handleEventStream(w, r, tripID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) handleTripDoc(w http.ResponseWriter, r *http.Request, tripID string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.Store.GetDocument(r.Context(), tripID)
		if err != nil {
			writeProblem(w, http.StatusNotFound, "Trip not found", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPatch:
		p := s.getPrincipal(r)
		m, err := s.Store.GetMember(r.Context(), tripID, p.UserID)
		if err != nil || m.Role != "owner" {
			writeProblem(w, http.StatusForbidden, "Forbidden", "owner required", r.URL.Path)
			return
		}
		var req struct {
			Name       *string `json:"name,omitempty"`
			Simulation *bool   `json:"simulation,omitempty"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		values := map[string]any{}
		if req.Name != nil {
			values["name"] = *req.Name
		}
		if req.Simulation != nil {
			values["simulation"] = *req.Simulation
		}
		if len(values) == 0 {
			writeProblem(w, http.StatusBadRequest, "Empty patch", "", r.URL.Path)
			return
		}
		ts, err := s.Store.UpdatePaths(r.Context(), tripID, values)
		if err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				writeProblem(w, http.StatusNotFound, "Trip not found", err.Error(), r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Update trip failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lastUpdate": ts})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleItinerary returns every day's merged optimistic view.
func (s *Server) handleItinerary(w http.ResponseWriter, r *http.Request, tripID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Refresh failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": sess.Days()})
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request, tripID, date string, sub []string) {
	if err := validateDate(date); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid date", err.Error(), r.URL.Path)
		return
	}
	switch {
	case len(sub) == 0:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sess, ok := s.sessionOr404(w, r, tripID)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"date": date, "items": sess.Day(date)})
	case sub[0] == "reorder" && len(sub) == 1:
		s.handleReorder(w, r, tripID, date)
	case sub[0] == "items" && len(sub) == 1:
		s.handleAddItem(w, r, tripID, date)
	case sub[0] == "items" && len(sub) == 2:
		s.handleDeleteItem(w, r, tripID, date, sub[1])
	case sub[0] == "conflicts" && len(sub) == 1:
		s.handleConflicts(w, r, tripID, date)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request, tripID, date string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.ReorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateReorder(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid reorder", err.Error(), r.URL.Path)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	toIndex := req.ToIndex
	if req.AfterItemID != "" {
		idx, err := afterIndex(sess.Day(date), req.ItemID, req.AfterItemID)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid reorder", err.Error(), r.URL.Path)
			return
		}
		toIndex = idx
	}
	items, err := sess.Reorder(r.Context(), date, req.ItemID, toIndex, req.AutoShift)
	if err != nil {
		s.writeEngineError(w, r, "reorder", err)
		return
	}
	metrics.Mutations.WithLabelValues("reorder", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "items": items})
}

// afterIndex maps "place the dragged item after afterID" to the post-splice
// structural index the engine expects.
func afterIndex(items []model.Item, itemID, afterID string) (int, error) {
	pos := 0
	found := false
	for _, it := range items {
		if it.ID == itemID {
			continue
		}
		pos++
		if it.ID == afterID {
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("afterItemId %s not found", afterID)
	}
	return pos, nil
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request, tripID, date string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Item    model.Item `json:"item"`
		ToIndex *int       `json:"toIndex,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateItem(&req.Item); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid item", err.Error(), r.URL.Path)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	item, err := sess.Add(r.Context(), date, req.Item, req.ToIndex)
	if err != nil {
		s.writeEngineError(w, r, "add", err)
		return
	}
	metrics.Mutations.WithLabelValues("add", "ok").Inc()
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request, tripID, date, itemID string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	if err := sess.Delete(r.Context(), date, itemID); err != nil {
		s.writeEngineError(w, r, "delete", err)
		return
	}
	metrics.Mutations.WithLabelValues("delete", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request, tripID, date string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	threshold := s.Cfg.GapThresholdMin
	if v := r.URL.Query().Get("gapThreshold"); v != "" {
		fmt.Sscanf(v, "%d", &threshold)
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "conflicts": sess.Conflicts(date, threshold)})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, tripID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.MoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateMove(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid move", err.Error(), r.URL.Path)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	if err := sess.Move(r.Context(), req.ItemID, req.FromDate, req.ToDate, req.ToIndex); err != nil {
		s.writeEngineError(w, r, "move", err)
		return
	}
	metrics.Mutations.WithLabelValues("move", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"fromDate": req.FromDate, "fromItems": sess.Day(req.FromDate),
		"toDate": req.ToDate, "toItems": sess.Day(req.ToDate),
	})
}

func (s *Server) handleUndoRedo(w http.ResponseWriter, r *http.Request, tripID string, redo bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateDate(req.Date); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid date", err.Error(), r.URL.Path)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	var items []model.Item
	var applied bool
	var err error
	kind := "undo"
	if redo {
		kind = "redo"
		items, applied, err = sess.Redo(r.Context(), req.Date)
	} else {
		items, applied, err = sess.Undo(r.Context(), req.Date)
	}
	if err != nil {
		s.writeEngineError(w, r, kind, err)
		return
	}
	metrics.Mutations.WithLabelValues(kind, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied, "date": req.Date, "items": items})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, tripID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := r.URL.Query().Get("date")
	if err := validateDate(date); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid date", err.Error(), r.URL.Path)
		return
	}
	sess, ok := s.sessionOr404(w, r, tripID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "entries": sess.History(date)})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, tripID string) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	m, err := s.Store.GetMember(r.Context(), tripID, p.UserID)
	if err != nil || m.Role != "owner" {
		writeProblem(w, http.StatusForbidden, "Forbidden", "owner required", r.URL.Path)
		return
	}
	var req struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || (req.Role != "owner" && req.Role != "editor" && req.Role != "viewer") {
		writeProblem(w, http.StatusBadRequest, "Invalid member", "role must be owner, editor or viewer", r.URL.Path)
		return
	}
	if err := s.Store.UpsertMember(r.Context(), model.Member{TripID: tripID, UserID: req.UserID, Role: req.Role}); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Upsert member failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEventStream streams trip mutation events over SSE.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request, tripID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.Store.GetDocument(r.Context(), tripID); err != nil {
		writeProblem(w, http.StatusNotFound, "Trip not found", err.Error(), r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(tripID)
	defer s.Broker.Unsubscribe(tripID, ch)
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"tripId\":\"%s\",\"ts\":\"%s\"}\n\n", tripID, time.Now().Format(time.RFC3339))
	flusher.Flush()
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"tripId\":\"%s\",\"ts\":\"%s\"}\n\n", tripID, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.TripID == "" || req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "tripId, url and events are required", r.URL.Path)
			return
		}
		p := s.getPrincipal(r)
		m, err := s.Store.GetMember(r.Context(), req.TripID, p.UserID)
		if err != nil || m.Role != "owner" {
			writeProblem(w, http.StatusForbidden, "Forbidden", "owner required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		tripID := r.URL.Query().Get("tripId")
		if tripID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing tripId", "", r.URL.Path)
			return
		}
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), tripID, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tripID := r.URL.Query().Get("tripId")
	if err := s.Store.DeleteSubscription(r.Context(), tripID, id); err != nil {
		writeProblem(w, http.StatusNotFound, "Subscription not found", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) sessionOr404(w http.ResponseWriter, r *http.Request, tripID string) (*engine.Session, bool) {
	p := s.getPrincipal(r)
	sess, err := s.session(r.Context(), tripID, p.UserID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Trip not found", err.Error(), r.URL.Path)
		} else {
			writeProblem(w, http.StatusInternalServerError, "Session failed", err.Error(), r.URL.Path)
		}
		return nil, false
	}
	return sess, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, kind string, err error) {
	switch {
	case errors.Is(err, engine.ErrReadOnly):
		metrics.Mutations.WithLabelValues(kind, "forbidden").Inc()
		writeProblem(w, http.StatusForbidden, "Read-only", err.Error(), r.URL.Path)
	case errors.Is(err, engine.ErrItemNotFound):
		metrics.Mutations.WithLabelValues(kind, "not_found").Inc()
		writeProblem(w, http.StatusNotFound, "Item not found", err.Error(), r.URL.Path)
	default:
		metrics.Mutations.WithLabelValues(kind, "error").Inc()
		writeProblem(w, http.StatusInternalServerError, "Mutation failed", err.Error(), r.URL.Path)
	}
}
