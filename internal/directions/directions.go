// Package directions estimates travel time between two named places.
// The scheduler treats every provider as unreliable: an error or a zero
// estimate means the caller falls back to its fixed buffer.
package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"itinsync/internal/metrics"
)

// Provider returns an estimated travel duration in minutes for the given
// transport mode (transit, walk, drive).
type Provider interface {
	Estimate(ctx context.Context, origin, destination, mode string) (int, error)
}

// Static always answers with a fixed number of minutes. Used in tests and as
// the zero-config default.
type Static struct {
	Minutes int
}

func (s Static) Estimate(ctx context.Context, origin, destination, mode string) (int, error) {
	return s.Minutes, nil
}

// HTTPProvider queries a routing service speaking a minimal JSON contract:
// GET {base}?origin=..&destination=..&mode=.. -> {"durationMinutes": n}.
type HTTPProvider struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPFromEnv returns a provider for DIRECTIONS_URL, or nil when unset.
func NewHTTPFromEnv() *HTTPProvider {
	base := os.Getenv("DIRECTIONS_URL")
	if base == "" {
		return nil
	}
	return &HTTPProvider{BaseURL: base, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (p *HTTPProvider) Estimate(ctx context.Context, origin, destination, mode string) (int, error) {
	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)
	q.Set("mode", mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		metrics.DirectionsLookups.WithLabelValues("http", "error").Inc()
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		metrics.DirectionsLookups.WithLabelValues("http", "error").Inc()
		return 0, fmt.Errorf("directions: status %d", resp.StatusCode)
	}
	var body struct {
		DurationMinutes int `json:"durationMinutes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.DirectionsLookups.WithLabelValues("http", "error").Inc()
		return 0, err
	}
	metrics.DirectionsLookups.WithLabelValues("http", "ok").Inc()
	return body.DurationMinutes, nil
}
