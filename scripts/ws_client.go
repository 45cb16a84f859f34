// Package main runs a demo WebSocket client for trip events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a small trip to watch
	body := []byte(`{"name":"demo","itinerary":{"2026-05-02":[
		{"id":"a","type":"spot","time":"09:00","details":{"name":"A","duration":60}},
		{"id":"b","type":"food","time":"11:00","details":{"name":"B","duration":30}}
	]}}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/trips", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "u_demo")
	req.Header.Set("X-Role", "owner")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		log.Fatal(err)
	}
	log.Printf("Trip ID: %s", doc.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-User-Id", "u_demo")
	hdr.Set("X-Role", "owner")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to the trip's itinerary events
	pl, _ := json.Marshal(map[string]any{"tripId": doc.ID, "events": "itinerary."})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an event via a reorder
	time.Sleep(500 * time.Millisecond)
	reorder := []byte(`{"itemId":"b","toIndex":0}`)
	rreq, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/trips/%s/days/2026-05-02/reorder", base, doc.ID), bytes.NewReader(reorder))
	rreq.Header.Set("Content-Type", "application/json")
	rreq.Header.Set("X-User-Id", "u_demo")
	rreq.Header.Set("X-Role", "owner")
	_, _ = http.DefaultClient.Do(rreq)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
