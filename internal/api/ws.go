package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bustrack/internal/auth"
	"bustrack/internal/metrics"
	"bustrack/internal/realtime"
)

// ServeWS upgrades to a websocket session attached to the hub. Anonymous
// callers receive global traffic but cannot subscribe to routes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	pr, authed, err := s.getPrincipal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	ob := newOutbox(realtime.ConnID(uuid.NewString()), s.Cfg.Realtime.SendBuffer)
	log := s.log.WithFields(logrus.Fields{"conn": ob.id, "remote": r.RemoteAddr, "role": pr.Role})
	if err := s.Hub.Submit(r.Context(), realtime.Connect{Session: ob}); err != nil {
		log.WithError(err).Warn("hub rejected connection")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	log.Debug("websocket connected")

	go s.writePump(conn, ob)
	s.readPump(r.Context(), conn, ob, pr, authed, log)

	s.release(ob)
	log.Debug("websocket disconnected")
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, ob *outbox, pr auth.Principal, authed bool, log logrus.FieldLogger) {
	defer conn.Close()
	rc := s.Cfg.Realtime
	conn.SetReadLimit(rc.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(rc.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(rc.PongWait))
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.Cfg.Server.RateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.Cfg.Server.RateRPS), max(s.Cfg.Server.RateBurst, 1))
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("websocket read failed")
			}
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			s.rejectFrame(ob, "malformed", realtime.ErrMalformed.Error(), "")
			continue
		}
		if !limiter.Allow() {
			s.rejectFrame(ob, "rate_limited", "rate limit exceeded", f.Ref)
			continue
		}
		if f.Type == realtime.TypePing {
			ob.Send(realtime.PongEvent())
			continue
		}
		cmd, err := realtime.Decode(ob.id, f)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, realtime.ErrUnknownType) {
				reason = "unknown_type"
			}
			s.rejectFrame(ob, reason, err.Error(), f.Ref)
			continue
		}
		if sub, isSub := cmd.(realtime.SubscribeRoute); isSub && (!authed || !pr.CanWatchRoute(sub.Route)) {
			s.rejectFrame(ob, "forbidden", "not authorized for route "+sub.Route.String(), f.Ref)
			continue
		}
		if err := s.Hub.Submit(ctx, cmd); err != nil {
			log.WithError(err).Debug("submit failed")
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, ob *outbox) {
	wait := s.Cfg.Realtime.WriteWait
	ticker := time.NewTicker(s.Cfg.Realtime.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case ev := <-ob.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ob.done:
			_ = conn.SetWriteDeadline(time.Now().Add(wait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// rejectFrame answers the offending connection only.
func (s *Server) rejectFrame(ob *outbox, reason, msg, ref string) {
	metrics.RejectedFrames.WithLabelValues(reason).Inc()
	ob.Send(realtime.ErrorEvent(msg, ref))
}
