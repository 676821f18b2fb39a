package store

import (
	"context"
	"errors"
	"time"

	"bustrack/internal/model"
)

// Store persists samples and lifecycle events after they have been fanned out.
// Nothing on the broadcast path waits on it.
type Store interface {
	// Locations
	InsertLocations(ctx context.Context, rows []LocationRow) error

	// Lifecycle events; chat messages and trips are also kept in their own tables
	InsertEvents(ctx context.Context, rows []EventRow) error
	ListChatMessages(ctx context.Context, limit int) ([]model.ChatMessage, error)
	GetTrip(ctx context.Context, tripID model.ID) (Trip, error)

	Ping(ctx context.Context) error
	Close()
}

// LocationRow is a sample plus the time the server received it.
type LocationRow struct {
	model.LocationSample
	ReceivedAt time.Time
}

// EventRow is a lifecycle event plus the time the server received it.
type EventRow struct {
	Event      model.LifecycleEvent
	ReceivedAt time.Time
}

// Trip is the persisted state of a trip built from trip-started and
// trip-completed events.
type Trip struct {
	TripID      model.ID   `json:"tripId"`
	DriverID    model.ID   `json:"driverId"`
	VehicleID   model.ID   `json:"vehicleId"`
	RouteID     model.ID   `json:"routeId"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

const (
	DefaultChatLimit = 50
	MaxChatLimit     = 500
)

// ClampChatLimit applies the history default and cap.
func ClampChatLimit(limit int) int {
	if limit <= 0 {
		return DefaultChatLimit
	}
	if limit > MaxChatLimit {
		return MaxChatLimit
	}
	return limit
}

var ErrNotFound = errors.New("not found")
