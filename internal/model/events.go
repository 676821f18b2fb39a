package model

import "time"

// Lifecycle event tags as they appear on the wire.
const (
	EventStopArrival   = "stop-arrival"
	EventTripStarted   = "trip-started"
	EventTripCompleted = "trip-completed"
	EventChatMessage   = "chat-message"
)

// LifecycleEvent is one of StopArrival, TripStarted, TripCompleted or
// ChatMessage. The set is closed: the unexported marker keeps other packages
// from adding variants.
type LifecycleEvent interface {
	EventType() string
	// Route is the route the event belongs to, empty when it has none.
	Route() ID
	// At is the event time; zero until stamped.
	At() time.Time
	lifecycleEvent()
}

type StopArrival struct {
	TripID    ID        `json:"tripId"`
	StopID    ID        `json:"stopId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	RouteID   ID        `json:"routeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type TripStarted struct {
	TripID    ID        `json:"tripId"`
	DriverID  ID        `json:"driverId"`
	VehicleID ID        `json:"vehicleId"`
	RouteID   ID        `json:"routeId"`
	Timestamp time.Time `json:"timestamp"`
}

type TripCompleted struct {
	TripID    ID        `json:"tripId"`
	RouteID   ID        `json:"routeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	UserName  string    `json:"userName"`
	UserID    ID        `json:"userId,omitempty"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

func (StopArrival) EventType() string   { return EventStopArrival }
func (TripStarted) EventType() string   { return EventTripStarted }
func (TripCompleted) EventType() string { return EventTripCompleted }
func (ChatMessage) EventType() string   { return EventChatMessage }

func (e StopArrival) Route() ID   { return e.RouteID }
func (e TripStarted) Route() ID   { return e.RouteID }
func (e TripCompleted) Route() ID { return e.RouteID }

// Route is always empty: chat is a global channel.
func (ChatMessage) Route() ID { return "" }

func (e StopArrival) At() time.Time   { return e.Timestamp }
func (e TripStarted) At() time.Time   { return e.Timestamp }
func (e TripCompleted) At() time.Time { return e.Timestamp }
func (e ChatMessage) At() time.Time   { return e.Timestamp }

func (StopArrival) lifecycleEvent()   {}
func (TripStarted) lifecycleEvent()   {}
func (TripCompleted) lifecycleEvent() {}
func (ChatMessage) lifecycleEvent()   {}

// Stamp returns a copy of e with its timestamp set to t when unset.
func Stamp(e LifecycleEvent, t time.Time) LifecycleEvent {
	if !e.At().IsZero() {
		return e
	}
	switch v := e.(type) {
	case StopArrival:
		v.Timestamp = t
		return v
	case TripStarted:
		v.Timestamp = t
		return v
	case TripCompleted:
		v.Timestamp = t
		return v
	case ChatMessage:
		v.Timestamp = t
		return v
	}
	return e
}
