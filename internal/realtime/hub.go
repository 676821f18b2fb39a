// Package realtime implements the live fan-out core: connection identities,
// route rooms, location ingest, lifecycle event broadcast and presence.
//
// All state lives in a Hub and is mutated only by Hub.Handle, which Run calls
// from a single goroutine. Transports submit Commands and receive Events
// through the Session interface; nothing in this package does network I/O.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bustrack/internal/metrics"
	"bustrack/internal/model"
	"bustrack/internal/recorder"
)

// Recorder receives every ingested sample and published event after fan-out.
// Record must not block.
type Recorder interface {
	Record(rec recorder.Record) bool
}

// Options tune the fan-out rules.
type Options struct {
	// ValidateBounds drops samples whose coordinates are outside WGS84 ranges.
	ValidateBounds bool
	// ScopeTripEvents also sends trip-started/trip-completed to the route room.
	ScopeTripEvents bool
	// CommandBuffer is the capacity of the Submit queue.
	CommandBuffer int
}

type sessionEntry struct {
	s         Session
	routeOnly bool
}

// Hub owns the connection registry and route rooms and performs every
// fan-out decision.
type Hub struct {
	opts Options
	rec  Recorder
	log  logrus.FieldLogger
	now  func() time.Time

	cmds    chan Command
	done    chan struct{}
	runOnce sync.Once

	mu       sync.RWMutex
	sessions map[ConnID]sessionEntry
	registry *Registry
	rooms    *Rooms
}

func NewHub(opts Options, rec Recorder, log logrus.FieldLogger) *Hub {
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = 1024
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		opts:     opts,
		rec:      rec,
		log:      log.WithField("component", "hub"),
		now:      func() time.Time { return time.Now().UTC() },
		cmds:     make(chan Command, opts.CommandBuffer),
		done:     make(chan struct{}),
		sessions: map[ConnID]sessionEntry{},
		registry: NewRegistry(),
		rooms:    NewRooms(),
	}
}

// Run processes submitted commands until ctx is cancelled, then closes every
// session. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	started := false
	h.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(h.done)
	for {
		select {
		case cmd := <-h.cmds:
			h.Handle(cmd)
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Submit queues cmd for the Run loop. Commands from one caller are handled in
// the order submitted.
func (h *Hub) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.cmds <- cmd:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle applies one command synchronously.
func (h *Hub) Handle(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch c := cmd.(type) {
	case Connect:
		h.connect(c)
	case Disconnect:
		h.disconnect(c.Conn)
	case Announce:
		h.announce(c)
	case Leave:
		h.leave(c.Conn)
	case IngestLocation:
		h.ingest(c)
	case Publish:
		h.publish(c)
	case SubscribeRoute:
		h.subscribe(c)
	case UnsubscribeRoute:
		if h.rooms.Unsubscribe(c.Conn, c.Route) {
			h.log.WithFields(logrus.Fields{"conn": c.Conn, "route": c.Route}).Debug("unsubscribed from route")
		}
	default:
		h.log.Warnf("unhandled command %T", cmd)
	}
}

func (h *Hub) connect(c Connect) {
	if c.Session == nil {
		return
	}
	id := c.Session.ID()
	if _, ok := h.sessions[id]; ok {
		h.log.WithField("conn", id).Warn("duplicate connect ignored")
		return
	}
	h.sessions[id] = sessionEntry{s: c.Session, routeOnly: c.RouteOnly}
	metrics.Connections.Set(float64(len(h.sessions)))
	h.log.WithFields(logrus.Fields{"conn": id, "routeOnly": c.RouteOnly}).Debug("session connected")
}

func (h *Hub) disconnect(id ConnID) {
	e, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	left := h.rooms.RemoveConn(id)
	e.s.Close()
	metrics.Connections.Set(float64(len(h.sessions)))
	h.log.WithFields(logrus.Fields{"conn": id, "rooms": len(left)}).Debug("session disconnected")

	// A connection that never announced leaves silently.
	if u, had := h.registry.Unregister(id); had {
		metrics.AnnouncedUsers.Set(float64(h.registry.Len()))
		h.broadcastPresence(TypePresenceLeft, u, "")
	}
}

func (h *Hub) announce(c Announce) {
	if _, ok := h.sessions[c.Conn]; !ok {
		h.reject("unknown_conn", c.Conn, "announce from unknown connection")
		return
	}
	h.registry.Register(c.Conn, c.User)
	metrics.AnnouncedUsers.Set(float64(h.registry.Len()))
	h.log.WithFields(logrus.Fields{"conn": c.Conn, "user": c.User.ID, "role": c.User.Role}).Info("identity announced")
	h.broadcastPresence(TypePresenceJoined, c.User, c.Conn)
}

func (h *Hub) leave(id ConnID) {
	u, ok := h.registry.Unregister(id)
	if !ok {
		return
	}
	metrics.AnnouncedUsers.Set(float64(h.registry.Len()))
	h.log.WithFields(logrus.Fields{"conn": id, "user": u.ID}).Info("identity left")
	h.broadcastPresence(TypePresenceLeft, u, "")
}

func (h *Hub) broadcastPresence(typ string, u model.User, except ConnID) {
	ev, err := newEvent(typ, presencePayload{User: u, Timestamp: h.now(), Roster: h.registry.List()})
	if err != nil {
		h.log.WithError(err).Error("encode presence")
		return
	}
	h.broadcastGlobal(ev, except)
}

func (h *Hub) ingest(c IngestLocation) {
	s := c.Sample
	if err := ValidateSample(s, h.opts.ValidateBounds); err != nil {
		reason := "malformed"
		if errors.Is(err, ErrOutOfBounds) {
			reason = "out_of_bounds"
		}
		h.reject(reason, c.Conn, err.Error())
		return
	}
	received := h.now()
	ev, err := newEvent(TypeLocationUpdate, locationPayload{Sample: s, Timestamp: received})
	if err != nil {
		h.reject("encode", c.Conn, err.Error())
		return
	}
	h.broadcastGlobal(ev, "")
	if s.RouteID != "" {
		h.broadcastRoom(s.RouteID, Event{Type: TypeRouteLocationUpdate, Payload: ev.Payload})
	}
	h.record(recorder.LocationRecord(s, received))
}

func (h *Hub) publish(c Publish) {
	if err := ValidateEvent(c.Event); err != nil {
		h.reject("malformed", c.Conn, err.Error())
		return
	}
	received := h.now()
	e := model.Stamp(c.Event, received)
	if m, ok := e.(model.ChatMessage); ok && m.ID == "" {
		m.ID = uuid.New().String()
		if m.Kind == "" {
			m.Kind = "text"
		}
		e = m
	}
	ev, err := newEvent(e.EventType(), e)
	if err != nil {
		h.reject("encode", c.Conn, err.Error())
		return
	}
	// Exactly one global emission per publish.
	h.broadcastGlobal(ev, "")
	if route := h.scopedRoute(e); route != "" {
		h.broadcastRoom(route, Event{Type: routePrefix + ev.Type, Payload: ev.Payload})
	}
	h.record(recorder.EventRecord(e, received))
}

// scopedRoute returns the room an event is additionally sent to. Chat is
// never room-scoped; trip lifecycle events only when configured.
func (h *Hub) scopedRoute(e model.LifecycleEvent) model.ID {
	switch e.(type) {
	case model.StopArrival:
		return e.Route()
	case model.TripStarted, model.TripCompleted:
		if h.opts.ScopeTripEvents {
			return e.Route()
		}
	}
	return ""
}

func (h *Hub) subscribe(c SubscribeRoute) {
	if _, ok := h.sessions[c.Conn]; !ok {
		h.reject("unknown_conn", c.Conn, "subscribe from unknown connection")
		return
	}
	if h.rooms.Subscribe(c.Conn, c.Route) {
		h.log.WithFields(logrus.Fields{"conn": c.Conn, "route": c.Route}).Debug("subscribed to route")
	}
}

func (h *Hub) broadcastGlobal(ev Event, except ConnID) {
	n := 0
	for id, e := range h.sessions {
		if e.routeOnly || id == except {
			continue
		}
		if h.deliver(id, e.s, ev) {
			n++
		}
	}
	metrics.Deliveries.WithLabelValues(ev.Type, "global").Add(float64(n))
}

func (h *Hub) broadcastRoom(route model.ID, ev Event) {
	n := 0
	for _, id := range h.rooms.MembersOf(route) {
		e, ok := h.sessions[id]
		if !ok {
			continue
		}
		if h.deliver(id, e.s, ev) {
			n++
		}
	}
	metrics.Deliveries.WithLabelValues(ev.Type, "room").Add(float64(n))
}

// deliver hands ev to one session. A refusal only affects that recipient.
func (h *Hub) deliver(id ConnID, s Session, ev Event) bool {
	if s.Send(ev) {
		return true
	}
	metrics.DroppedSends.WithLabelValues(ev.Type).Inc()
	h.log.WithFields(logrus.Fields{"conn": id, "type": ev.Type}).Debug("send queue full, dropped")
	return false
}

func (h *Hub) record(rec recorder.Record) {
	if h.rec == nil {
		return
	}
	h.rec.Record(rec)
}

func (h *Hub) reject(reason string, conn ConnID, msg string) {
	metrics.RejectedFrames.WithLabelValues(reason).Inc()
	h.log.WithFields(logrus.Fields{"conn": conn, "reason": reason}).Debug(msg)
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.sessions {
		e.s.Close()
		delete(h.sessions, id)
	}
	h.registry = NewRegistry()
	h.rooms = NewRooms()
	metrics.Connections.Set(0)
	metrics.AnnouncedUsers.Set(0)
	h.log.Info("hub stopped")
}

// Roster returns the currently announced users.
func (h *Hub) Roster() []model.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.List()
}

// Members returns the connections subscribed to route.
func (h *Hub) Members(route model.ID) []ConnID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms.MembersOf(route)
}

// Subscriptions returns the routes a connection is subscribed to.
func (h *Hub) Subscriptions(id ConnID) []model.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms.RoutesOf(id)
}

// ConnectionCount returns the number of live sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Options returns the options the hub was built with.
func (h *Hub) Options() Options { return h.opts }
