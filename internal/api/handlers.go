package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bustrack/internal/gtfsrt"
	"bustrack/internal/model"
	"bustrack/internal/realtime"
	"bustrack/internal/store"
)

type chatRequest struct {
	UserName string   `json:"userName"`
	UserID   model.ID `json:"userId"`
	Message  string   `json:"message"`
}

type tripStartRequest struct {
	TripID    model.ID `json:"tripId"`
	DriverID  model.ID `json:"driverId"`
	VehicleID model.ID `json:"vehicleId"`
	RouteID   model.ID `json:"routeId"`
}

type tripCompleteRequest struct {
	RouteID model.ID `json:"routeId"`
}

// publish validates e and hands it to the hub; the hub emits it exactly once.
func (s *Server) publish(w http.ResponseWriter, r *http.Request, e model.LifecycleEvent) bool {
	if err := realtime.ValidateEvent(e); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid event", err.Error(), r.URL.Path)
		return false
	}
	if err := s.Hub.Submit(r.Context(), realtime.Publish{Event: e}); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", err.Error(), r.URL.Path)
		return false
	}
	return true
}

// PostChatMessage broadcasts a chat message to every connected client.
func (s *Server) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = model.ID(pr.Subject)
	}
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = pr.Name
	}
	m := model.ChatMessage{
		ID:        uuid.NewString(),
		UserName:  name,
		UserID:    req.UserID,
		Message:   req.Message,
		Kind:      "text",
		Timestamp: s.now(),
	}
	if !s.publish(w, r, m) {
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

// ListChatMessages returns recent chat history, oldest first.
func (s *Server) ListChatMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
			return
		}
		limit = n
	}
	msgs, err := s.Store.ListChatMessages(r.Context(), store.ClampChatLimit(limit))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "History unavailable", err.Error(), r.URL.Path)
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// StartTrip announces a trip-started event. A trip id is generated when the
// caller does not supply one.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req tripStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TripID == "" {
		req.TripID = model.ID(uuid.NewString())
	}
	if req.DriverID == "" && pr.Role == string(model.RoleDriver) {
		req.DriverID = model.ID(pr.Subject)
	}
	e := model.TripStarted{TripID: req.TripID, DriverID: req.DriverID, VehicleID: req.VehicleID, RouteID: req.RouteID, Timestamp: s.now()}
	if !s.publish(w, r, e) {
		return
	}
	writeJSON(w, http.StatusAccepted, e)
}

// CompleteTrip announces trip-completed. The route comes from the body or,
// failing that, from the stored trip.
func (s *Server) CompleteTrip(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requirePrincipal(w, r); !ok {
		return
	}
	var req tripCompleteRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
	}
	tripID := model.ID(chi.URLParam(r, "tripId"))
	if req.RouteID == "" {
		t, err := s.Store.GetTrip(r.Context(), tripID)
		switch {
		case err == nil:
			req.RouteID = t.RouteID
		case !errors.Is(err, store.ErrNotFound):
			s.log.WithError(err).WithField("trip", tripID).Warn("trip lookup failed")
		}
	}
	e := model.TripCompleted{TripID: tripID, RouteID: req.RouteID, Timestamp: s.now()}
	if !s.publish(w, r, e) {
		return
	}
	writeJSON(w, http.StatusAccepted, e)
}

// PostLocation ingests a sample over REST with the same rules as the
// websocket location-sample frame.
func (s *Server) PostLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requirePrincipal(w, r); !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error(), r.URL.Path)
		return
	}
	cmd, err := realtime.Decode("", realtime.Frame{Type: realtime.TypeLocationSample, Payload: body})
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid sample", err.Error(), r.URL.Path)
		return
	}
	in := cmd.(realtime.IngestLocation)
	if err := realtime.ValidateSample(in.Sample, s.Hub.Options().ValidateBounds); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid sample", err.Error(), r.URL.Path)
		return
	}
	if err := s.Hub.Submit(r.Context(), in); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "driverId": in.Sample.DriverID})
}

// Presence returns the announced roster and the number of live sessions.
func (s *Server) Presence(w http.ResponseWriter, r *http.Request) {
	roster := s.Hub.Roster()
	if roster == nil {
		roster = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"roster": roster, "connections": s.Hub.ConnectionCount()})
}

// RoutePositions lists the drivers currently active on a route.
func (s *Server) RoutePositions(w http.ResponseWriter, r *http.Request) {
	route := model.ID(chi.URLParam(r, "routeId"))
	ps, err := s.Positions.ListByRoute(r.Context(), route)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Positions unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routeId": route, "positions": ps})
}

// VehiclePositionsFeed serves the GTFS-realtime VehiclePositions feed.
func (s *Server) VehiclePositionsFeed(w http.ResponseWriter, r *http.Request) {
	ps, err := s.Positions.List(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Positions unavailable", err.Error(), r.URL.Path)
		return
	}
	asJSON := r.URL.Query().Get("format") == "json"
	b, err := gtfsrt.Marshal(gtfsrt.VehiclePositions(ps, s.now()), asJSON)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Encode failed", err.Error(), r.URL.Path)
		return
	}
	if asJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/x-protobuf")
	}
	_, _ = w.Write(b)
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.Hub.ConnectionCount()})
}

// Readyz reports whether the store is reachable.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "db": "ok"})
}
