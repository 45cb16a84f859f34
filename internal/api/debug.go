package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"itinsync/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             s.Cfg.Port,
			"AUTH_MODE":        s.Cfg.AuthMode,
			"RATE_RPS":         s.Cfg.RateRPS,
			"RATE_BURST":       s.Cfg.RateBurst,
			"BUFFER_MINUTES":   s.Cfg.BufferMinutes,
			"CACHE_DIR":        s.Cfg.CacheDir,
			"HAS_DATABASE_URL": s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":    s.Cfg.RedisURL != "",
			"HAS_DIRECTIONS":   s.Cfg.DirectionsURL != "" || os.Getenv("DIRECTIONS_URL") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
