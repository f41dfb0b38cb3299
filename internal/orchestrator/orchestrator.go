// Package orchestrator wires storage, the program runtime, the factory service
// and event publishers from configuration.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"hypertoken/internal/config"
	"hypertoken/internal/eventbus"
	"hypertoken/internal/factory"
	"hypertoken/internal/runtime"
	"hypertoken/internal/storage"
	chstore "hypertoken/internal/storage/clickhouse"
	"hypertoken/internal/storage/memory"
	"hypertoken/internal/storage/migrations"
	pgstore "hypertoken/internal/storage/postgres"
	"hypertoken/internal/tokenprogram"
)

// Stores groups the storage backends selected by configuration.
type Stores struct {
	Ledger    storage.LedgerStore
	Registry  storage.RegistryStore
	Events    storage.EventStore
	Analytics storage.EventAnalyticsStore
}

// Options for creating Orchestrator.
type Options struct {
	Config config.Common
	Logger logrus.FieldLogger

	// RuntimeOptions are passed to runtime.New.
	RuntimeOptions []runtime.Option

	// KafkaWriteTimeout bounds each Kafka write. Default: 10s.
	KafkaWriteTimeout time.Duration
}

// Orchestrator owns every long-lived component and closes them in reverse order.
type Orchestrator struct {
	stores    Stores
	runtime   *runtime.Runtime
	service   *factory.Service
	publisher *eventbus.Multi
	sinks     []string
	storage   string

	closers []func() error
	logger  logrus.FieldLogger
}

// New opens storage, applies migrations and builds the factory stack.
func New(ctx context.Context, opts Options) (o *Orchestrator, err error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	o = &Orchestrator{storage: opts.Config.Storage, logger: logger}
	defer func() {
		if err != nil {
			o.Close()
		}
	}()

	if err := o.openStores(ctx, opts.Config); err != nil {
		return nil, err
	}
	if err := o.openPublishers(opts); err != nil {
		return nil, err
	}

	o.runtime, err = runtime.New(ctx, o.stores.Ledger, logger, opts.RuntimeOptions...)
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	tokens := tokenprogram.New(logger)
	o.service, err = factory.New(factory.Options{
		ProgramID: opts.Config.ProgramID,
		Executor:  o.runtime,
		Mints:     tokens,
		Accounts:  tokenprogram.NewAssociatedTokenProgram(tokens, logger),
		Ledger:    o.stores.Ledger,
		Registry:  o.stores.Registry,
		Events:    o.stores.Events,
		Publisher: o.publisher,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create factory service: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"program_id": opts.Config.ProgramID,
		"storage":    o.storage,
		"sinks":      o.sinks,
		"slot":       o.runtime.LatestSlot(),
	}).Info("factory stack ready")
	return o, nil
}

func (o *Orchestrator) openStores(ctx context.Context, cfg config.Common) error {
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		o.closers = append(o.closers, func() error { pool.Close(); return nil })

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		ledger := pgstore.NewLedger(pool)
		o.stores.Ledger = ledger
		o.stores.Registry = ledger
		o.stores.Events = ledger.Events()
	default:
		ledger := memory.NewLedger()
		o.stores.Ledger = ledger
		o.stores.Registry = ledger
		o.stores.Events = ledger.Events()
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		o.closers = append(o.closers, conn.Close)
		o.stores.Analytics = chstore.NewEventAnalyticsStore(conn)
	} else {
		o.stores.Analytics = memory.NewEventAnalyticsStore()
	}
	return nil
}

func (o *Orchestrator) openPublishers(opts Options) error {
	o.publisher = eventbus.NewMulti()
	o.publisher.Add("log", eventbus.NewLogPublisher(o.logger))
	o.publisher.Add("analytics", eventbus.NewAnalyticsPublisher(o.stores.Analytics))
	o.sinks = append(o.sinks, "log", "analytics")

	if len(opts.Config.KafkaBrokers) > 0 {
		timeout := opts.KafkaWriteTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		kafka, err := eventbus.NewKafkaPublisher(eventbus.KafkaParams{
			Brokers:      opts.Config.KafkaBrokers,
			Topic:        opts.Config.KafkaTopic,
			WriteTimeout: timeout,
		})
		if err != nil {
			return err
		}
		o.publisher.Add("kafka", kafka)
		o.sinks = append(o.sinks, "kafka")
	}

	o.closers = append(o.closers, o.publisher.Close)
	return nil
}

// Service returns the factory service.
func (o *Orchestrator) Service() *factory.Service { return o.service }

// Runtime returns the program runtime.
func (o *Orchestrator) Runtime() *runtime.Runtime { return o.runtime }

// Stores returns the storage backends.
func (o *Orchestrator) Stores() Stores { return o.stores }

// Publisher returns the fan-out publisher of all configured sinks.
func (o *Orchestrator) Publisher() eventbus.Publisher { return o.publisher }

// StorageName returns the configured storage backend name.
func (o *Orchestrator) StorageName() string { return o.storage }

// Sinks returns the names of the configured publisher sinks.
func (o *Orchestrator) Sinks() []string { return o.sinks }

// Close releases all resources in reverse order of acquisition.
func (o *Orchestrator) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}
