package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID is an opaque identifier. Clients send ids either as JSON strings or
// numbers (legacy apps use integer primary keys); both decode to the same ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Role of an announced user.
type Role string

const (
	RoleDriver  Role = "driver"
	RoleManager Role = "manager"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleDriver || r == RoleManager }

// User is the identity a connection announces.
type User struct {
	Name string `json:"name"`
	ID   ID     `json:"id"`
	Role Role   `json:"role"`
}

// LocationSample is a single GPS fix reported by a driver.
type LocationSample struct {
	DriverID  ID        `json:"driverId"`
	VehicleID ID        `json:"vehicleId,omitempty"`
	RouteID   ID        `json:"routeId,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	// Timestamp is the client fix time, nil when the client sent none.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// InBounds reports whether the coordinates are valid WGS84 degrees.
func (s LocationSample) InBounds() bool {
	return s.Latitude >= -90 && s.Latitude <= 90 && s.Longitude >= -180 && s.Longitude <= 180
}
