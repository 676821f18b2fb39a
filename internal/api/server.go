// Package api exposes the realtime hub over websocket and SSE, plus the REST
// surface for publishing events and reading snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bustrack/internal/auth"
	"bustrack/internal/config"
	"bustrack/internal/positions"
	"bustrack/internal/realtime"
	"bustrack/internal/recorder"
	"bustrack/internal/store"
)

type Server struct {
	Cfg       config.Config
	Hub       *realtime.Hub
	Store     store.Store
	Positions positions.Cache
	Recorder  *recorder.Recorder
	Auth      *auth.Verifier

	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	now      func() time.Time
	closers  []func() error
}

// NewServer wires the store, position cache, recorder sinks and hub from cfg.
// Without DATABASE_URL the store is in memory; without REDIS_URL positions
// are kept in a local LRU; Kafka export is enabled when brokers are set.
func NewServer(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{Cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() }}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		s.Store = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := sp.Migrate(ctx); err != nil {
				sp.Close()
				return nil, err
			}
		}
		s.Store = sp
	}
	s.closers = append(s.closers, func() error { s.Store.Close(); return nil })

	if cfg.Redis.URL != "" {
		rdb, err := positions.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, using in-memory positions")
			s.Positions = positions.NewMemory(cfg.Positions.Size, cfg.Positions.TTL)
		} else {
			s.Positions = positions.NewRedis(rdb, cfg.Positions.TTL, cfg.Redis.Prefix)
			s.closers = append(s.closers, rdb.Close)
		}
	} else {
		s.Positions = positions.NewMemory(cfg.Positions.Size, cfg.Positions.TTL)
	}

	sinks := append(recorder.StoreSinks(s.Store), recorder.PositionsSink{Cache: s.Positions})
	if len(cfg.Kafka.Brokers) > 0 {
		ks := recorder.NewKafkaSink(recorder.KafkaConfig{
			Brokers:       cfg.Kafka.Brokers,
			LocationTopic: cfg.Kafka.LocationTopic,
			EventTopic:    cfg.Kafka.EventTopic,
		})
		sinks = append(sinks, ks)
		s.closers = append(s.closers, ks.Close)
	}
	s.Recorder = recorder.New(recorder.Options{
		QueueSize:     cfg.Recorder.QueueSize,
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
		MaxAttempts:   cfg.Recorder.MaxAttempts,
	}, log, sinks...)

	s.Hub = realtime.NewHub(realtime.Options{
		ValidateBounds:  cfg.Realtime.ValidateBounds,
		ScopeTripEvents: cfg.Realtime.ScopeTripEvents,
		CommandBuffer:   cfg.Realtime.CommandBuffer,
	}, s.Recorder, log)

	s.Auth = auth.NewVerifier(auth.Config{
		Mode:        cfg.Auth.Mode,
		HMACSecret:  cfg.Auth.HMACSecret,
		JWKSURL:     cfg.Auth.JWKSURL,
		RoleClaim:   cfg.Auth.RoleClaim,
		NameClaim:   cfg.Auth.NameClaim,
		RoutesClaim: cfg.Auth.RoutesClaim,
	})

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Start runs the hub and the recorder until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	s.Recorder.Start(ctx)
	go s.Hub.Run(ctx)
}

// Close flushes the recorder and releases store, cache and broker clients.
func (s *Server) Close(ctx context.Context) error {
	errs := []error{s.Recorder.Stop(ctx)}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.Cfg.Server.AllowOrigins) == 0 {
		return true
	}
	for _, o := range s.Cfg.Server.AllowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
