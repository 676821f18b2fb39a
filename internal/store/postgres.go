package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bustrack/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool and checks connectivity.
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded migrations in lexicographic order, one
// transaction per file. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sqlb, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sqlb)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s failed: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) InsertLocations(ctx context.Context, rows []LocationRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`INSERT INTO locations (driver_id, vehicle_id, route_id, latitude, longitude, speed, heading, sampled_at, received_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			string(r.DriverID), nullIfEmpty(string(r.VehicleID)), nullIfEmpty(string(r.RouteID)),
			r.Latitude, r.Longitude, r.Speed, r.Heading, r.Timestamp, r.ReceivedAt)
	}
	if err := p.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert locations: %w", err)
	}
	return nil
}

// InsertEvents writes every event to lifecycle_events and keeps the chat and
// trips tables current, all in one transaction.
func (p *Postgres) InsertEvents(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rows {
		payload, err := json.Marshal(r.Event)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Event.EventType(), err)
		}
		b.Queue(`INSERT INTO lifecycle_events (id, type, route_id, payload, occurred_at, received_at) VALUES ($1,$2,$3,$4,$5,$6)`,
			uuid.New(), r.Event.EventType(), nullIfEmpty(string(r.Event.Route())), payload, r.Event.At(), r.ReceivedAt)
		switch e := r.Event.(type) {
		case model.ChatMessage:
			b.Queue(`INSERT INTO chat_messages (id, user_name, user_id, message, kind, sent_at) VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO NOTHING`,
				e.ID, e.UserName, nullIfEmpty(string(e.UserID)), e.Message, e.Kind, e.Timestamp)
		case model.TripStarted:
			b.Queue(`INSERT INTO trips (trip_id, driver_id, vehicle_id, route_id, started_at) VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (trip_id) DO UPDATE SET driver_id=EXCLUDED.driver_id, vehicle_id=EXCLUDED.vehicle_id,
				route_id=EXCLUDED.route_id, started_at=EXCLUDED.started_at, completed_at=NULL`,
				string(e.TripID), string(e.DriverID), nullIfEmpty(string(e.VehicleID)), string(e.RouteID), e.Timestamp)
		case model.TripCompleted:
			b.Queue(`INSERT INTO trips (trip_id, route_id, completed_at) VALUES ($1,$2,$3)
				ON CONFLICT (trip_id) DO UPDATE SET completed_at=EXCLUDED.completed_at`,
				string(e.TripID), nullIfEmpty(string(e.RouteID)), e.Timestamp)
		}
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ListChatMessages(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	limit = ClampChatLimit(limit)
	rows, err := p.pool.Query(ctx, `SELECT id, user_name, COALESCE(user_id, ''), message, kind, sent_at FROM (
		SELECT * FROM chat_messages ORDER BY sent_at DESC, id DESC LIMIT $1
	) recent ORDER BY sent_at ASC, id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ChatMessage{}
	for rows.Next() {
		var m model.ChatMessage
		var uid string
		if err := rows.Scan(&m.ID, &m.UserName, &uid, &m.Message, &m.Kind, &m.Timestamp); err != nil {
			return nil, err
		}
		m.UserID = model.ID(uid)
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) GetTrip(ctx context.Context, tripID model.ID) (Trip, error) {
	var t Trip
	var id, driver, vehicle, route string
	var started *time.Time
	err := p.pool.QueryRow(ctx, `SELECT trip_id, COALESCE(driver_id,''), COALESCE(vehicle_id,''), COALESCE(route_id,''), started_at, completed_at
		FROM trips WHERE trip_id=$1`, string(tripID)).Scan(&id, &driver, &vehicle, &route, &started, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trip{}, ErrNotFound
	}
	if err != nil {
		return Trip{}, err
	}
	t.TripID, t.DriverID, t.VehicleID, t.RouteID = model.ID(id), model.ID(driver), model.ID(vehicle), model.ID(route)
	if started != nil {
		t.StartedAt = *started
	}
	return t, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
