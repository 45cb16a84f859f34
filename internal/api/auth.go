// Package api implements HTTP handlers and helpers for the itinerary service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	UserID string
	Role   string // owner, editor, viewer
}

// getPrincipal extracts the caller from JWT or headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{UserID: pr.UserID, Role: pr.Role}
		}
	}
	userID := r.Header.Get("X-User-Id")
	role := r.Header.Get("X-Role")
	if userID == "" {
		userID = "u_demo"
	}
	if role == "" {
		role = "editor"
	}
	return Principal{UserID: userID, Role: role}
}
