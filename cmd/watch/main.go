// Package main runs the event watcher: it subscribes to a Solana cluster's
// logs for the factory program, decodes TokenCreated and TokenMetadataUpdated
// events and stores and publishes them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"hypertoken/internal/config"
	"hypertoken/internal/logging"
	"hypertoken/internal/observability"
	"hypertoken/internal/orchestrator"
	"hypertoken/internal/solana"
	"hypertoken/internal/watcher"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		logrus.WithError(err).Fatal("load .env")
	}

	cfg, err := config.ParseWatcher(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	log := logger.WithField("service", "watch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := orchestrator.New(ctx, orchestrator.Options{Config: cfg.Common, Logger: logger})
	if err != nil {
		log.WithError(err).Fatal("open storage")
	}
	defer orch.Close()

	wsConfig := solana.DefaultWSConfig()
	wsConfig.Commitment = cfg.Commitment
	ws, err := solana.NewWSClient(ctx, cfg.WSEndpoint, &wsConfig, logger)
	if err != nil {
		log.WithError(err).Fatal("connect websocket")
	}
	defer ws.Close()

	w, err := watcher.New(watcher.Options{
		Subscriber: ws,
		ProgramID:  cfg.ProgramID,
		Events:     orch.Stores().Events,
		Publisher:  orch.Publisher(),
		Logger:     logger,
	})
	if err != nil {
		log.WithError(err).Fatal("create watcher")
	}

	started := time.Now()
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           statusRouter(w, cfg, started),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()
		<-sigCh
		os.Exit(1)
	}()

	if cfg.RPCEndpoint != "" && cfg.BackfillLimit > 0 {
		commitment := cfg.Commitment
		if commitment == "processed" {
			// getSignaturesForAddress accepts confirmed or finalized only.
			commitment = "confirmed"
		}
		rpc := solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithCommitment(commitment))
		go func() {
			if _, err := w.Backfill(ctx, rpc, cfg.BackfillLimit); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("backfill failed")
			}
		}()
	}

	err = w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("watcher stopped")
		return
	}
	log.WithField("stats", w.Stats()).Info("shutdown complete")
}

// watchStatus is the /status payload.
type watchStatus struct {
	ProgramID     string `json:"program_id"`
	Endpoint      string `json:"endpoint"`
	Commitment    string `json:"commitment"`
	Uptime        string `json:"uptime"`
	Notifications int    `json:"notifications"`
	Skipped       int    `json:"skipped_failed"`
	Stored        int    `json:"stored"`
	Duplicates    int    `json:"duplicates"`
	DecodeErrors  int    `json:"decode_errors"`
	HighestSlot   int64  `json:"highest_slot"`
}

func statusRouter(w *watcher.Watcher, cfg *config.Watcher, started time.Time) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("OK"))
	})
	r.Get("/status", func(rw http.ResponseWriter, _ *http.Request) {
		st := w.Stats()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(watchStatus{
			ProgramID:     cfg.ProgramID,
			Endpoint:      cfg.WSEndpoint,
			Commitment:    cfg.Commitment,
			Uptime:        time.Since(started).Truncate(time.Second).String(),
			Notifications: st.Notifications,
			Skipped:       st.Skipped,
			Stored:        st.Stored,
			Duplicates:    st.Duplicates,
			DecodeErrors:  st.DecodeErrors,
			HighestSlot:   st.HighestSlot,
		})
	})
	r.Handle("/metrics", observability.Handler())
	return r
}
