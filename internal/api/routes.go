package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"bustrack/internal/metrics"
)

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	// Realtime
	r.Get("/ws", s.ServeWS)
	r.Get("/v1/routes/{routeId}/events/stream", s.RouteEventStream)

	// Publish + history
	r.Get("/v1/chat/messages", s.ListChatMessages)
	r.Post("/v1/chat/messages", s.PostChatMessage)
	r.Post("/v1/trips", s.StartTrip)
	r.Post("/v1/trips/{tripId}/complete", s.CompleteTrip)
	r.Post("/v1/locations", s.PostLocation)

	// Snapshots
	r.Get("/v1/presence", s.Presence)
	r.Get("/v1/routes/{routeId}/positions", s.RoutePositions)
	r.Get("/gtfs-rt/vehicle-positions", s.VehiclePositionsFeed)

	// Health
	r.Get("/healthz", s.Healthz)
	r.Get("/readyz", s.Readyz)
	r.Get("/debug", s.DebugJSON)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		code := strconv.Itoa(status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   status,
			"duration": dur,
			"remote":   r.RemoteAddr,
		}).Info("request")
	})
}
