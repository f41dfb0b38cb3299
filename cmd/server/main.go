// Package main runs the token factory HTTP API: the program runtime, token
// programs and factory service behind signed JSON endpoints, with events
// fanned out to the configured sinks.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/api"
	"hypertoken/internal/config"
	"hypertoken/internal/logging"
	"hypertoken/internal/orchestrator"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		logrus.WithError(err).Fatal("load .env")
	}

	cfg, err := config.ParseServer(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	log := logger.WithField("service", "server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := orchestrator.New(ctx, orchestrator.Options{Config: cfg.Common, Logger: logger})
	if err != nil {
		log.WithError(err).Fatal("start factory stack")
	}
	defer func() {
		if err := orch.Close(); err != nil {
			log.WithError(err).Warn("close resources")
		}
	}()

	handler := api.NewServer(api.Options{
		Service:        orch.Service(),
		Stats:          orch.Stores().Analytics,
		Slots:          orch.Runtime(),
		StorageName:    orch.StorageName(),
		ClockSkew:      cfg.ClockSkew,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}).Handler()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// A second signal forces exit.
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("forced shutdown")
			os.Exit(1)
		case <-shutdownCtx.Done():
		}
	}()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	cancel()
	log.Info("shutdown complete")
}
