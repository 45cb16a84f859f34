package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"itinsync/internal/model"
)

// Postgres persists trip documents as jsonb rows with a server-side
// last_update, matching the last-write-wins semantics of the engine.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// EnsureSchema creates the tables when missing (dev helper).
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trips (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			itinerary JSONB NOT NULL DEFAULT '{}'::jsonb,
			simulation BOOLEAN NOT NULL DEFAULT FALSE,
			last_update TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trip_members (
			trip_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (trip_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			trip_id TEXT NOT NULL,
			url TEXT NOT NULL,
			events TEXT[] NOT NULL,
			secret TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			trip_id TEXT NOT NULL,
			subscription_id TEXT,
			event_type TEXT NOT NULL,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			payload JSONB,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT,
			response_code INT,
			latency_ms INT,
			delivered_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON webhook_deliveries (status, next_attempt_at)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateTrip(ctx context.Context, doc model.TripDocument) (model.TripDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Itinerary == nil {
		doc.Itinerary = map[string][]model.Item{}
	}
	itin, err := json.Marshal(doc.Itinerary)
	if err != nil {
		return model.TripDocument{}, err
	}
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO trips (id, name, itinerary, simulation) VALUES ($1,$2,$3,$4) RETURNING last_update`,
		doc.ID, doc.Name, itin, doc.Simulation).Scan(&doc.LastUpdate)
	if err != nil {
		return model.TripDocument{}, err
	}
	return doc, nil
}

func (p *Postgres) GetDocument(ctx context.Context, tripID string) (model.TripDocument, error) {
	var doc model.TripDocument
	var itin []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, itinerary, simulation, last_update FROM trips WHERE id=$1`, tripID).
		Scan(&doc.ID, &doc.Name, &itin, &doc.Simulation, &doc.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TripDocument{}, ErrNotFound
	}
	if err != nil {
		return model.TripDocument{}, err
	}
	if err := json.Unmarshal(itin, &doc.Itinerary); err != nil {
		return model.TripDocument{}, err
	}
	if doc.Itinerary == nil {
		doc.Itinerary = map[string][]model.Item{}
	}
	return doc, nil
}

func (p *Postgres) UpdatePaths(ctx context.Context, tripID string, values map[string]any) (time.Time, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var itinRaw []byte
	var name string
	var simulation bool
	err = tx.QueryRowContext(ctx,
		`SELECT itinerary, name, simulation FROM trips WHERE id=$1 FOR UPDATE`, tripID).
		Scan(&itinRaw, &name, &simulation)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	itinerary := map[string][]model.Item{}
	if err := json.Unmarshal(itinRaw, &itinerary); err != nil {
		return time.Time{}, err
	}

	for path, v := range values {
		switch {
		case strings.HasPrefix(path, "itinerary."):
			date := strings.TrimPrefix(path, "itinerary.")
			items, ok := v.([]model.Item)
			if !ok {
				return time.Time{}, fmt.Errorf("path %s: expected []model.Item", path)
			}
			if len(items) == 0 {
				delete(itinerary, date)
			} else {
				itinerary[date] = items
			}
		case path == "name":
			s, ok := v.(string)
			if !ok {
				return time.Time{}, fmt.Errorf("path name: expected string")
			}
			name = s
		case path == "simulation":
			b, ok := v.(bool)
			if !ok {
				return time.Time{}, fmt.Errorf("path simulation: expected bool")
			}
			simulation = b
		default:
			return time.Time{}, fmt.Errorf("unsupported path: %s", path)
		}
	}

	out, err := json.Marshal(itinerary)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	err = tx.QueryRowContext(ctx,
		`UPDATE trips SET itinerary=$2, name=$3, simulation=$4, last_update=now() WHERE id=$1 RETURNING last_update`,
		tripID, out, name, simulation).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	return last, nil
}

func (p *Postgres) GetMember(ctx context.Context, tripID, userID string) (model.Member, error) {
	var m model.Member
	err := p.db.QueryRowContext(ctx,
		`SELECT trip_id, user_id, role FROM trip_members WHERE trip_id=$1 AND user_id=$2`, tripID, userID).
		Scan(&m.TripID, &m.UserID, &m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Member{}, ErrNotFound
	}
	return m, err
}

func (p *Postgres) UpsertMember(ctx context.Context, m model.Member) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO trip_members (trip_id, user_id, role) VALUES ($1,$2,$3)
		 ON CONFLICT (trip_id, user_id) DO UPDATE SET role=EXCLUDED.role`,
		m.TripID, m.UserID, m.Role)
	return err
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), TripID: req.TripID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, trip_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.TripID, s.URL, pqStringArray(s.Events), s.Secret)
	return s, err
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tripID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, trip_id, url, events, secret FROM subscriptions WHERE trip_id=$1 AND (events @> ARRAY[$2]::text[] OR events @> ARRAY['*']::text[])`,
		tripID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tripID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, trip_id, url, events, secret FROM subscriptions WHERE trip_id=$1 AND id > $2 ORDER BY id LIMIT $3`,
		tripID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	items, err := scanSubscriptions(rows)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = items[limit-1].ID
	}
	return items, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tripID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE trip_id=$1 AND id=$2`, tripID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tripID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, trip_id, subscription_id, event_type, url, secret, payload) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, tripID, nullIfEmpty(subscriptionID), eventType, url, secret, payload)
	return id, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, trip_id, COALESCE(subscription_id,''), event_type, url, secret, payload, status, attempts
		 FROM webhook_deliveries
		 WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		 ORDER BY next_attempt_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TripID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx,
			`UPDATE webhook_deliveries SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3, delivered_at=now() WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status='retry', attempts=attempts+1, last_error=$2, response_code=$3, latency_ms=$4, next_attempt_at=$5 WHERE id=$1`,
		id, lastError, responseCode, latencyMs, next)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status='failed', last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, lastError, responseCode, latencyMs)
	return err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSubscriptions(rows rowScanner) ([]model.Subscription, error) {
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.TripID, &s.URL, &events, &s.Secret); err != nil {
			return nil, err
		}
		s.Events = parsePQStringArray(string(events))
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pqStringArray renders a []string as a Postgres array literal; nil for empty.
func pqStringArray(ss []string) any {
	if len(ss) == 0 {
		return nil
	}
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func parsePQStringArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, `"`)
		out = append(out, strings.ReplaceAll(strings.ReplaceAll(p, `\"`, `"`), `\\`, `\`))
	}
	return out
}
