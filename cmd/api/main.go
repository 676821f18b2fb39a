package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"bustrack/internal/api"
	"bustrack/internal/buildinfo"
	"bustrack/internal/config"
	"bustrack/internal/logging"
	"bustrack/internal/metrics"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srvDeps, err := api.NewServer(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init server")
	}
	srvDeps.Start(ctx)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           srvDeps.Router(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "version": buildinfo.Version, "auth": cfg.Auth.Mode}).Info("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if err := srvDeps.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("close dependencies")
	}
	log.Info("stopped")
}
