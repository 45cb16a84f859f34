package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"itinsync/internal/auth"
	"itinsync/internal/cache"
	"itinsync/internal/config"
	"itinsync/internal/directions"
	"itinsync/internal/engine"
	"itinsync/internal/remote"
	"itinsync/internal/schedule"
	"itinsync/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  remote.Store
	Pub    *webhooks.Publisher
	Auth   *auth.Verifier
	Broker EventBroker

	directions directions.Provider

	mu       sync.Mutex
	sessions map[string]*engine.Session
}

// NewServer wires the store, broker, auth and directions provider from
// configuration. With no DATABASE_URL it runs on the in-memory store.
func NewServer() (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var store remote.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		store = remote.NewMemory()
	} else {
		pg, err := remote.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		store = pg
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	var dp directions.Provider
	if cfg.DirectionsURL != "" {
		dp = &directions.HTTPProvider{BaseURL: cfg.DirectionsURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
		if cfg.RedisURL != "" {
			if cached, err := directions.NewRedisCache(dp); err == nil {
				dp = cached
			}
		}
	}
	return &Server{
		Cfg:        cfg,
		Store:      store,
		Pub:        webhooks.NewPublisher(store),
		Auth:       auth.NewVerifierFromEnv(),
		Broker:     broker,
		directions: dp,
		sessions:   map[string]*engine.Session{},
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

// tripNotifier fans committed mutations out to live streams and webhooks.
type tripNotifier struct {
	s      *Server
	tripID string
}

func (n tripNotifier) Notify(eventType string, data map[string]any) {
	n.s.Broker.Publish(n.tripID, SSEEvent{Type: eventType, Data: data})
	n.s.Pub.Emit(context.Background(), n.tripID, eventType, data)
}

// session returns the editing session for (trip, user), creating it on first
// use. Sessions hold the per-user undo stack and optimistic cache.
func (s *Server) session(ctx context.Context, tripID, userID string) (*engine.Session, error) {
	key := tripID + "|" + userID
	s.mu.Lock()
	if sess, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	kv := s.newKV()
	opts := cache.Options{LoadSkew: s.Cfg.CacheLoadSkew.Std(), LiveSkew: s.Cfg.CacheLiveSkew.Std()}
	c := cache.New(tripID, kv, nil, opts)
	r := schedule.NewRipple(s.directions)
	if s.Cfg.BufferMinutes > 0 {
		r.Buffer = s.Cfg.BufferMinutes
	}
	if s.Cfg.DefaultDurationMin > 0 {
		r.Duration = s.Cfg.DefaultDurationMin
	}
	sess, err := engine.NewSession(ctx, tripID, userID, s.Store, c, r)
	if err != nil {
		return nil, err
	}
	sess.Events = tripNotifier{s: s, tripID: tripID}
	sess.HistoryCap = s.Cfg.HistoryCap

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[key]; ok {
		return existing, nil
	}
	s.sessions[key] = sess
	return sess, nil
}

func (s *Server) newKV() cache.KeyValueStore {
	if s.Cfg.CacheDir != "" {
		return cache.NewDiskKV(s.Cfg.CacheDir)
	}
	return cache.NewMemoryKV()
}
