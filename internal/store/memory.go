package store

import (
	"context"
	"sort"
	"sync"

	"bustrack/internal/model"
)

// maxMemoryLocations bounds the in-memory location log; older rows are dropped.
const maxMemoryLocations = 10000

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	locations []LocationRow
	events    []EventRow
	chat      []model.ChatMessage
	trips     map[model.ID]Trip
}

func NewMemory() *Memory {
	return &Memory{trips: map[model.ID]Trip{}}
}

func (m *Memory) InsertLocations(ctx context.Context, rows []LocationRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, rows...)
	if over := len(m.locations) - maxMemoryLocations; over > 0 {
		m.locations = append([]LocationRow(nil), m.locations[over:]...)
	}
	return nil
}

func (m *Memory) InsertEvents(ctx context.Context, rows []EventRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.events = append(m.events, r)
		switch e := r.Event.(type) {
		case model.ChatMessage:
			m.chat = append(m.chat, e)
		case model.TripStarted:
			m.trips[e.TripID] = Trip{TripID: e.TripID, DriverID: e.DriverID, VehicleID: e.VehicleID, RouteID: e.RouteID, StartedAt: e.Timestamp}
		case model.TripCompleted:
			t, ok := m.trips[e.TripID]
			if !ok {
				t = Trip{TripID: e.TripID, RouteID: e.RouteID}
			}
			at := e.Timestamp
			t.CompletedAt = &at
			m.trips[e.TripID] = t
		}
	}
	return nil
}

// ListChatMessages returns the newest limit messages, oldest first.
func (m *Memory) ListChatMessages(ctx context.Context, limit int) ([]model.ChatMessage, error) {
	limit = ClampChatLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.ChatMessage(nil), m.chat...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) GetTrip(ctx context.Context, tripID model.ID) (Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return Trip{}, ErrNotFound
	}
	return t, nil
}

// Locations returns a copy of the stored location rows.
func (m *Memory) Locations() []LocationRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LocationRow(nil), m.locations...)
}

// Events returns a copy of the stored lifecycle rows.
func (m *Memory) Events() []EventRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventRow(nil), m.events...)
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}
