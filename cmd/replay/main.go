// Package main replays the persisted factory event log into the configured sinks
// (ClickHouse analytics, Kafka) and verifies every factory it touched.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/config"
	"hypertoken/internal/logging"
	"hypertoken/internal/orchestrator"
	"hypertoken/internal/replay"
	"hypertoken/internal/verification"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		logrus.WithError(err).Fatal("load .env")
	}

	cfg, err := config.ParseReplay(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	log := logger.WithField("service", "replay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if code := run(ctx, cfg, logger, log); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, cfg *config.Replay, logger *logrus.Logger, log logrus.FieldLogger) int {
	orch, err := orchestrator.New(ctx, orchestrator.Options{Config: cfg.Common, Logger: logger})
	if err != nil {
		log.WithError(err).Error("open storage")
		return 1
	}
	defer orch.Close()

	stores := orch.Stores()
	log.WithFields(logrus.Fields{
		"storage":   orch.StorageName(),
		"sinks":     orch.Sinks(),
		"from_slot": cfg.FromSlot,
		"to_slot":   cfg.ToSlot,
	}).Info("Starting replay")

	res, err := replay.NewRunner(stores.Events, stores.Ledger, orch.Publisher(), logger).
		WithWindow(cfg.WindowSlots).
		Run(ctx, cfg.FromSlot, cfg.ToSlot)
	if err != nil {
		log.WithError(err).Error("replay failed")
		return 1
	}

	if !cfg.Verify {
		return 0
	}

	verifier := verification.NewFactoryVerifier(cfg.ProgramID, stores.Ledger, stores.Registry, stores.Events, logger)
	reports, err := verifier.VerifyAll(ctx, res.Authorities)
	if err != nil {
		log.WithError(err).Error("verification failed")
		return 1
	}

	failed := 0
	for _, r := range reports {
		if r.OK() {
			continue
		}
		failed++
		entry := log.WithFields(logrus.Fields{"authority": r.Authority, "factory": r.Factory})
		for _, p := range r.Problems {
			entry.Warn(p)
		}
		for _, tok := range r.Tokens {
			for _, d := range tok.Divergences {
				entry.WithFields(logrus.Fields{"mint": tok.Mint, "index": tok.Index}).Warn(d.String())
			}
		}
	}

	log.WithFields(logrus.Fields{
		"factories": len(reports),
		"failed":    failed,
	}).Info("Verification complete")
	if failed > 0 {
		return 2
	}
	return 0
}
