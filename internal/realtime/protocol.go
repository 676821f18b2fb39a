package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"bustrack/internal/model"
)

// Inbound frame types.
const (
	TypeIdentityAnnounce = "identity-announce"
	TypeIdentityLeave    = "identity-leave"
	TypeLocationSample   = "location-sample"
	TypeSubscribeRoute   = "subscribe-route"
	TypeUnsubscribeRoute = "unsubscribe-route"
	TypePing             = "ping"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
	ErrOutOfBounds = errors.New("coordinates out of range")
	ErrHubStopped  = errors.New("hub stopped")
)

// Frame is an inbound message. Ref is an optional client correlation id,
// echoed in error replies.
type Frame struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type announceWire struct {
	Name string     `json:"name"`
	ID   model.ID   `json:"id"`
	Role model.Role `json:"role"`
}

type sampleWire struct {
	DriverID  model.ID        `json:"driverId"`
	VehicleID model.ID        `json:"vehicleId"`
	RouteID   model.ID        `json:"routeId"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Speed     float64         `json:"speed"`
	Heading   float64         `json:"heading"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type stopArrivalWire struct {
	TripID    model.ID `json:"tripId"`
	StopID    model.ID `json:"stopId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	RouteID   model.ID `json:"routeId"`
}

type tripStartedWire struct {
	TripID    model.ID `json:"tripId"`
	DriverID  model.ID `json:"driverId"`
	VehicleID model.ID `json:"vehicleId"`
	RouteID   model.ID `json:"routeId"`
}

type tripCompletedWire struct {
	TripID  model.ID `json:"tripId"`
	RouteID model.ID `json:"routeId"`
}

type chatWire struct {
	UserName string   `json:"userName"`
	UserID   model.ID `json:"userId"`
	Message  string   `json:"message"`
}

type routeWire struct {
	RouteID model.ID `json:"routeId"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

func decodePayload(f Frame, v any) error {
	raw := f.Payload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return malformed("%s: %v", f.Type, err)
	}
	return nil
}

// Decode turns an inbound frame from conn into a Command. Control frames
// (ping) are handled by the transport and are not decoded here.
func Decode(conn ConnID, f Frame) (Command, error) {
	switch f.Type {
	case TypeIdentityAnnounce:
		var w announceWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		u, err := userFromWire(w)
		if err != nil {
			return nil, err
		}
		return Announce{Conn: conn, User: u}, nil
	case TypeIdentityLeave:
		return Leave{Conn: conn}, nil
	case TypeLocationSample:
		var w sampleWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		s, err := sampleFromWire(w)
		if err != nil {
			return nil, err
		}
		return IngestLocation{Conn: conn, Sample: s}, nil
	case model.EventStopArrival:
		var w stopArrivalWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		return publishOf(conn, model.StopArrival{TripID: w.TripID, StopID: w.StopID, Latitude: w.Latitude, Longitude: w.Longitude, RouteID: w.RouteID})
	case model.EventTripStarted:
		var w tripStartedWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		return publishOf(conn, model.TripStarted{TripID: w.TripID, DriverID: w.DriverID, VehicleID: w.VehicleID, RouteID: w.RouteID})
	case model.EventTripCompleted:
		var w tripCompletedWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		return publishOf(conn, model.TripCompleted{TripID: w.TripID, RouteID: w.RouteID})
	case model.EventChatMessage:
		var w chatWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		return publishOf(conn, model.ChatMessage{UserName: strings.TrimSpace(w.UserName), UserID: w.UserID, Message: w.Message, Kind: "text"})
	case TypeSubscribeRoute, TypeUnsubscribeRoute:
		var w routeWire
		if err := decodePayload(f, &w); err != nil {
			return nil, err
		}
		if w.RouteID == "" {
			return nil, malformed("%s: routeId required", f.Type)
		}
		if f.Type == TypeSubscribeRoute {
			return SubscribeRoute{Conn: conn, Route: w.RouteID}, nil
		}
		return UnsubscribeRoute{Conn: conn, Route: w.RouteID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}

func publishOf(conn ConnID, e model.LifecycleEvent) (Command, error) {
	if err := ValidateEvent(e); err != nil {
		return nil, err
	}
	return Publish{Conn: conn, Event: e}, nil
}

func userFromWire(w announceWire) (model.User, error) {
	u := model.User{Name: strings.TrimSpace(w.Name), ID: w.ID, Role: model.Role(strings.ToLower(string(w.Role)))}
	if u.Role == "" {
		u.Role = model.RoleDriver
	}
	if u.ID == "" && u.Name == "" {
		return model.User{}, malformed("identity-announce: name or id required")
	}
	if !u.Role.Valid() {
		return model.User{}, malformed("identity-announce: unknown role %q", w.Role)
	}
	return u, nil
}

func sampleFromWire(w sampleWire) (model.LocationSample, error) {
	if w.Latitude == nil || w.Longitude == nil {
		return model.LocationSample{}, malformed("location-sample: latitude and longitude required")
	}
	s := model.LocationSample{
		DriverID:  w.DriverID,
		VehicleID: w.VehicleID,
		RouteID:   w.RouteID,
		Latitude:  *w.Latitude,
		Longitude: *w.Longitude,
		Speed:     w.Speed,
		Heading:   w.Heading,
	}
	s.Timestamp = sampleTime(w.Timestamp)
	if s.DriverID == "" {
		return model.LocationSample{}, malformed("location-sample: driverId required")
	}
	return s, nil
}

// sampleTime reads an optional client timestamp: an RFC 3339 string, or epoch
// milliseconds as sent by Date.now(). Anything else is ignored, leaving the
// server receipt time as the only time on the sample.
func sampleTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(str))
		if err != nil {
			return nil
		}
		t = t.UTC()
		return &t
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil || !finite(ms) || ms <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t
}

// ValidateSample checks the fields the fan-out engine relies on. Geographic
// bounds are only enforced when bounds is set.
func ValidateSample(s model.LocationSample, bounds bool) error {
	if s.DriverID == "" {
		return malformed("driverId required")
	}
	if !finite(s.Latitude) || !finite(s.Longitude) || !finite(s.Speed) || !finite(s.Heading) {
		return malformed("non-finite number in sample")
	}
	if bounds && !s.InBounds() {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrOutOfBounds, s.Latitude, s.Longitude)
	}
	return nil
}

// ValidateEvent checks the required fields of each lifecycle variant.
func ValidateEvent(e model.LifecycleEvent) error {
	switch v := e.(type) {
	case model.StopArrival:
		if v.StopID == "" {
			return malformed("stop-arrival: stopId required")
		}
		if !finite(v.Latitude) || !finite(v.Longitude) {
			return malformed("stop-arrival: non-finite coordinates")
		}
	case model.TripStarted:
		if v.TripID == "" || v.DriverID == "" || v.RouteID == "" {
			return malformed("trip-started: tripId, driverId and routeId required")
		}
	case model.TripCompleted:
		if v.TripID == "" {
			return malformed("trip-completed: tripId required")
		}
	case model.ChatMessage:
		if v.UserName == "" || strings.TrimSpace(v.Message) == "" {
			return malformed("chat-message: userName and message required")
		}
	case nil:
		return malformed("missing event")
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
