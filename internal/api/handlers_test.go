package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CACHE_DIR", "")
	t.Setenv("CONFIG_FILE", "")
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func asOwner(req *http.Request) *http.Request {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-Role", "owner")
	return req
}

func createTrip(t *testing.T, s *Server) string {
	t.Helper()
	body := []byte(`{"name":"Kyoto","itinerary":{"2026-05-02":[
		{"id":"a","type":"spot","time":"09:00","details":{"name":"A","duration":60}},
		{"id":"b","type":"food","time":"10:00","details":{"name":"B","duration":30}},
		{"id":"c","type":"spot","time":"12:00","details":{"name":"C","duration":30}}
	]}}`)
	rr := httptest.NewRecorder()
	s.TripsHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips", bytes.NewReader(body))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create trip: %d %s", rr.Code, rr.Body.String())
	}
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil || doc.ID == "" {
		t.Fatalf("decode trip: %v %s", err, rr.Body.String())
	}
	return doc.ID
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestCreateTripAndGetDay(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodGet, "/v1/trips/"+id+"/days/2026-05-02", nil)))
	if rr.Code != 200 {
		t.Fatalf("get day: %d %s", rr.Code, rr.Body.String())
	}
	var day struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &day); err != nil {
		t.Fatalf("decode day: %v", err)
	}
	if len(day.Items) != 3 || day.Items[0].ID != "a" {
		t.Fatalf("day items: %+v", day.Items)
	}
}

func TestReorderWithAutoShift(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	body := []byte(`{"itemId":"c","toIndex":1,"autoShift":true}`)
	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/days/2026-05-02/reorder", bytes.NewReader(body))))
	if rr.Code != 200 {
		t.Fatalf("reorder: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Items []struct {
			ID   string `json:"id"`
			Time string `json:"time"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Items[1].ID != "c" || resp.Items[1].Time != "10:10" {
		t.Fatalf("ripple result: %+v", resp.Items)
	}
	if resp.Items[2].ID != "b" || resp.Items[2].Time != "10:50" {
		t.Fatalf("ripple result: %+v", resp.Items)
	}
}

func TestReorderAfterItemID(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	body := []byte(`{"itemId":"c","afterItemId":"a"}`)
	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/days/2026-05-02/reorder", bytes.NewReader(body))))
	if rr.Code != 200 {
		t.Fatalf("reorder: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Items[0].ID != "a" || resp.Items[1].ID != "c" || resp.Items[2].ID != "b" {
		t.Fatalf("after-item reorder: %+v", resp.Items)
	}
}

func TestViewerIsForbidden(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	// grant v1 the viewer role
	mb := []byte(`{"userId":"v1","role":"viewer"}`)
	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPut, "/v1/trips/"+id+"/members", bytes.NewReader(mb))))
	if rr.Code != 200 {
		t.Fatalf("members: %d %s", rr.Code, rr.Body.String())
	}

	body := []byte(`{"itemId":"c","toIndex":0}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/days/2026-05-02/reorder", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "v1")
	req.Header.Set("X-Role", "viewer")
	rr = httptest.NewRecorder()
	s.TripByIDHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer reorder: %d %s", rr.Code, rr.Body.String())
	}
}

func TestAddDeleteUndo(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	// add
	body := []byte(`{"item":{"type":"hotel","time":"20:00","details":{"name":"Inn"}}}`)
	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/days/2026-05-02/items", bytes.NewReader(body))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rr.Code, rr.Body.String())
	}
	var added struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &added)
	if added.ID == "" {
		t.Fatalf("missing id: %s", rr.Body.String())
	}

	// delete
	rr = httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodDelete, "/v1/trips/"+id+"/days/2026-05-02/items/"+added.ID, nil)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rr.Code, rr.Body.String())
	}

	// undo restores the deleted item
	rr = httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/undo", bytes.NewReader([]byte(`{"date":"2026-05-02"}`)))))
	if rr.Code != 200 {
		t.Fatalf("undo: %d %s", rr.Code, rr.Body.String())
	}
	var undo struct {
		Applied bool `json:"applied"`
		Items   []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &undo)
	if !undo.Applied || len(undo.Items) != 4 {
		t.Fatalf("undo result: %s", rr.Body.String())
	}

	// history has entries
	rr = httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodGet, "/v1/trips/"+id+"/history?date=2026-05-02", nil)))
	if rr.Code != 200 {
		t.Fatalf("history: %d", rr.Code)
	}
	var hist struct {
		Entries []map[string]any `json:"entries"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &hist)
	if len(hist.Entries) < 2 {
		t.Fatalf("history entries: %s", rr.Body.String())
	}
}

func TestMoveAcrossDays(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	body := []byte(`{"itemId":"b","fromDate":"2026-05-02","toDate":"2026-05-03"}`)
	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/items/move", bytes.NewReader(body))))
	if rr.Code != 200 {
		t.Fatalf("move: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		FromItems []struct {
			ID string `json:"id"`
		} `json:"fromItems"`
		ToItems []struct {
			ID   string `json:"id"`
			Date string `json:"date"`
		} `json:"toItems"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.FromItems) != 2 || len(resp.ToItems) != 1 || resp.ToItems[0].Date != "2026-05-03" {
		t.Fatalf("move result: %s", rr.Body.String())
	}
}

func TestConflictsEndpoint(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"name":"Clash","itinerary":{"2026-05-02":[
		{"id":"a","type":"spot","time":"09:00","details":{"duration":60}},
		{"id":"b","type":"spot","time":"09:30","details":{"duration":30}}
	]}}`)
	rr := httptest.NewRecorder()
	s.TripsHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips", bytes.NewReader(body))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d", rr.Code)
	}
	var doc struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &doc)

	rr = httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodGet, "/v1/trips/"+doc.ID+"/days/2026-05-02/conflicts", nil)))
	if rr.Code != 200 {
		t.Fatalf("conflicts: %d", rr.Code)
	}
	var resp struct {
		Conflicts []struct {
			Type string `json:"type"`
		} `json:"conflicts"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Conflicts) != 1 || resp.Conflicts[0].Type != "overlap" {
		t.Fatalf("conflicts: %s", rr.Body.String())
	}
}

func TestValidateRejectsBadItem(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)
	body := []byte(`{"item":{"type":"castle","time":"9 am"}}`)
	rr := httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/days/2026-05-02/items", bytes.NewReader(body))))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad item: %d", rr.Code)
	}
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
	hdr  http.Header
	buf  bytes.Buffer
	code int
}

func (r *sseRecorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = http.Header{}
	}
	return r.hdr
}
func (r *sseRecorder) WriteHeader(c int)           { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush()                      {}

func TestTripEventsSSE(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	sseReq := httptest.NewRequest(http.MethodGet, "/v1/trips/"+id+"/events/stream", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sseReq = asOwner(sseReq.WithContext(ctx))

	rec := &sseRecorder{}
	done := make(chan struct{})
	go func() {
		s.TripByIDHandler(rec, sseReq)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Broker.Publish(id, SSEEvent{Type: "itinerary.reordered", Data: map[string]any{"tripId": id}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if bytes.Contains(rec.buf.Bytes(), []byte("event: itinerary.reordered")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bytes.Contains(rec.buf.Bytes(), []byte("event: itinerary.reordered")) {
		t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
	}
	cancel()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("handler did not exit after cancel")
	}
}

func TestMutationEnqueuesWebhook(t *testing.T) {
	s := newTestServer(t)
	id := createTrip(t, s)

	subBody := []byte(`{"tripId":"` + id + `","url":"https://example.invalid/webhook","events":["itinerary.reordered"],"secret":"shh"}`)
	rr := httptest.NewRecorder()
	s.SubscriptionsHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(subBody))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sub: %d %s", rr.Code, rr.Body.String())
	}

	body := []byte(`{"itemId":"c","toIndex":0}`)
	rr = httptest.NewRecorder()
	s.TripByIDHandler(rr, asOwner(httptest.NewRequest(http.MethodPost, "/v1/trips/"+id+"/days/2026-05-02/reorder", bytes.NewReader(body))))
	if rr.Code != 200 {
		t.Fatalf("reorder: %d", rr.Code)
	}

	// the remote write and webhook enqueue run in the background
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		items, err := s.Store.FetchDueWebhookDeliveries(context.Background(), 5)
		if err == nil && len(items) > 0 {
			if items[0].EventType != "itinerary.reordered" {
				t.Fatalf("eventType: %q", items[0].EventType)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a webhook delivery to be enqueued")
}
