// Package positions keeps the latest known position of every active driver.
package positions

import (
	"context"
	"sort"
	"time"

	"bustrack/internal/model"
)

// Position is the latest known location of a driver.
type Position struct {
	DriverID  model.ID  `json:"driverId"`
	VehicleID model.ID  `json:"vehicleId,omitempty"`
	RouteID   model.ID  `json:"routeId,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cache stores one position per driver. Entries older than the configured
// TTL are treated as gone.
type Cache interface {
	Upsert(ctx context.Context, p Position) error
	ListByRoute(ctx context.Context, routeID model.ID) ([]Position, error)
	List(ctx context.Context) ([]Position, error)
}

// FromSample builds a Position from a sample received at t. The sample's
// own timestamp wins when set.
func FromSample(s model.LocationSample, received time.Time) Position {
	at := received
	if s.Timestamp != nil {
		at = *s.Timestamp
	}
	return Position{
		DriverID:  s.DriverID,
		VehicleID: s.VehicleID,
		RouteID:   s.RouteID,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Speed:     s.Speed,
		Heading:   s.Heading,
		UpdatedAt: at.UTC(),
	}
}

func sortByDriver(ps []Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].DriverID < ps[j].DriverID })
}
