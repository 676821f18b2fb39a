package api

import (
	"net/http"
	"time"

	"bustrack/internal/buildinfo"
)

// DebugJSON reports build info, the effective non-secret config and hub
// counts.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  s.now().Format(time.RFC3339),
		"config": map[string]any{
			"port":             c.Server.Port,
			"authMode":         s.Auth.Mode(),
			"allowOrigins":     c.Server.AllowOrigins,
			"rateRPS":          c.Server.RateRPS,
			"rateBurst":        c.Server.RateBurst,
			"validateBounds":   c.Realtime.ValidateBounds,
			"scopeTripEvents":  c.Realtime.ScopeTripEvents,
			"recorderAttempts": c.Recorder.MaxAttempts,
			"hasDatabaseURL":   c.Database.URL != "",
			"hasRedisURL":      c.Redis.URL != "",
			"kafkaBrokers":     len(c.Kafka.Brokers),
		},
		"hub": map[string]any{
			"connections":      s.Hub.ConnectionCount(),
			"announced":        len(s.Hub.Roster()),
		},
	}
	writeJSON(w, http.StatusOK, info)
}
