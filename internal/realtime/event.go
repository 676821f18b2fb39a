package realtime

import (
	"encoding/json"
	"time"

	"bustrack/internal/model"
)

// Outbound frame types.
const (
	TypePresenceJoined      = "presence-joined"
	TypePresenceLeft        = "presence-left"
	TypeLocationUpdate      = "location-update"
	TypeRouteLocationUpdate = "route-location-update"
	TypePong                = "pong"
	TypeError               = "error"

	// routePrefix marks the room-scoped copy of a lifecycle event.
	routePrefix = "route-"
)

// Event is one outbound frame. Payload is encoded once per broadcast and
// shared by every recipient.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Session is the hub's view of a connection. Send must not block: it enqueues
// ev and reports false when the session cannot take it (queue full or closed).
type Session interface {
	ID() ConnID
	Send(ev Event) bool
	// Close is called once by the hub after the session is removed.
	Close()
}

type presencePayload struct {
	User      model.User   `json:"user"`
	Timestamp time.Time    `json:"timestamp"`
	Roster    []model.User `json:"roster"`
}

type locationPayload struct {
	Sample    model.LocationSample `json:"sample"`
	Timestamp time.Time            `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

func newEvent(typ string, v any) (Event, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Payload: b}, nil
}

// ErrorEvent builds the error frame sent back to a single connection.
func ErrorEvent(msg, ref string) Event {
	ev, _ := newEvent(TypeError, errorPayload{Message: msg, Ref: ref})
	return ev
}

// PongEvent answers a client ping.
func PongEvent() Event {
	return Event{Type: TypePong, Payload: json.RawMessage(`{}`)}
}
