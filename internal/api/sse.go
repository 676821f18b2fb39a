package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bustrack/internal/model"
	"bustrack/internal/realtime"
)

// RouteEventStream streams one route room over server-sent events. The
// session is route-only: it never sees global traffic or presence.
func (s *Server) RouteEventStream(w http.ResponseWriter, r *http.Request) {
	route := model.ID(chi.URLParam(r, "routeId"))
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if !pr.CanWatchRoute(route) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for route events", r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}

	ctx := r.Context()
	ob := newOutbox(realtime.ConnID("sse-"+uuid.NewString()), s.Cfg.Realtime.SendBuffer)
	log := s.log.WithFields(logrus.Fields{"conn": ob.id, "route": route})
	if err := s.Hub.Submit(ctx, realtime.Connect{Session: ob, RouteOnly: true}); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", err.Error(), r.URL.Path)
		return
	}
	defer func() {
		s.release(ob)
		log.Debug("route stream closed")
	}()
	if err := s.Hub.Submit(ctx, realtime.SubscribeRoute{Conn: ob.id, Route: route}); err != nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	s.heartbeat(w, route)
	flusher.Flush()

	ticker := time.NewTicker(s.Cfg.Realtime.SSEHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ob.done:
			return
		case ev := <-ob.ch:
			fmt.Fprintf(w, "event: %s\n", ev.Type)
			fmt.Fprintf(w, "data: %s\n\n", ev.Payload)
			flusher.Flush()
		case <-ticker.C:
			s.heartbeat(w, route)
			flusher.Flush()
		}
	}
}

func (s *Server) heartbeat(w http.ResponseWriter, route model.ID) {
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", route, s.now().Format(time.RFC3339))
}
