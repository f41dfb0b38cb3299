// Package config loads process configuration from flags, environment variables and an
// optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hypertoken/internal/pda"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// DefaultProgramID is the factory program id.
const DefaultProgramID = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

// LoadEnvFile sets variables from a KEY=VALUE file. Existing variables win.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if _, ok := os.LookupEnv(key); !ok {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}
	return nil
}

// Env returns the value of key or def when unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDuration parses key as a duration, falling back to def.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// EnvInt parses key as an int, falling back to def.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Common holds settings shared by every binary.
type Common struct {
	ProgramID     string
	Storage       string
	PostgresDSN   string
	ClickHouseDSN string
	KafkaBrokers  []string
	KafkaTopic    string
	LogLevel      string
	LogFormat     string
}

func (c *Common) register(fs *flag.FlagSet, kafkaBrokers *string) {
	fs.StringVar(&c.ProgramID, "program-id", Env("PROGRAM_ID", DefaultProgramID), "Factory program id")
	fs.StringVar(&c.Storage, "storage", Env("STORAGE", StorageMemory), "Storage backend (memory, postgres)")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	fs.StringVar(&c.ClickHouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional analytics)")
	fs.StringVar(kafkaBrokers, "kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Comma-separated Kafka brokers (optional)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", Env("KAFKA_TOPIC", "hypertoken.events"), "Kafka topic for factory events")
	fs.StringVar(&c.LogLevel, "log-level", Env("LOG_LEVEL", "info"), "Log level")
	fs.StringVar(&c.LogFormat, "log-format", Env("LOG_FORMAT", "text"), "Log format (text, json)")
}

// Validate checks the shared settings.
func (c *Common) Validate() error {
	if !pda.IsValidAddress(c.ProgramID) {
		return fmt.Errorf("invalid program id %q", c.ProgramID)
	}
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("--postgres-dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (use memory or postgres)", c.Storage)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("--kafka-topic is required when kafka brokers are set")
	}
	return nil
}

// Server configures cmd/server.
type Server struct {
	Common
	HTTPAddr        string
	AllowedOrigins  []string
	ClockSkew       time.Duration
	ShutdownTimeout time.Duration
}

// ParseServer parses server flags from args with environment defaults.
func ParseServer(args []string) (*Server, error) {
	cfg := &Server{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	var brokers string
	cfg.register(fs, &brokers)
	fs.StringVar(&cfg.HTTPAddr, "http-addr", Env("HTTP_ADDR", ":8080"), "HTTP listen address")
	var origins string
	fs.StringVar(&origins, "cors-origins", os.Getenv("CORS_ORIGINS"), "Comma-separated allowed CORS origins")
	fs.DurationVar(&cfg.ClockSkew, "clock-skew", EnvDuration("CLOCK_SKEW", 5*time.Minute), "Accepted request timestamp skew")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", EnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second), "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = SplitList(brokers)
	cfg.AllowedOrigins = SplitList(origins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks server settings.
func (c *Server) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.HTTPAddr == "" {
		return errors.New("--http-addr is required")
	}
	if c.ClockSkew <= 0 {
		return errors.New("--clock-skew must be positive")
	}
	return nil
}

// Watcher configures cmd/watch.
type Watcher struct {
	Common
	WSEndpoint    string
	RPCEndpoint   string // optional; enables backfill on start
	BackfillLimit int
	MetricsAddr   string
	Commitment    string
}

// ParseWatcher parses watcher flags from args with environment defaults.
func ParseWatcher(args []string) (*Watcher, error) {
	cfg := &Watcher{}
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)

	var brokers string
	cfg.register(fs, &brokers)
	fs.StringVar(&cfg.WSEndpoint, "ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint")
	fs.StringVar(&cfg.RPCEndpoint, "rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana HTTP RPC endpoint for backfill (optional)")
	fs.IntVar(&cfg.BackfillLimit, "backfill-limit", EnvInt("BACKFILL_LIMIT", 1000), "Maximum signatures examined by backfill")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", Env("METRICS_ADDR", ":9090"), "Prometheus metrics HTTP address")
	fs.StringVar(&cfg.Commitment, "commitment", Env("SOLANA_COMMITMENT", "confirmed"), "Subscription commitment")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = SplitList(brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks watcher settings.
func (c *Watcher) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.WSEndpoint == "" {
		return errors.New("--ws-endpoint is required")
	}
	if !strings.HasPrefix(c.WSEndpoint, "ws://") && !strings.HasPrefix(c.WSEndpoint, "wss://") {
		return fmt.Errorf("ws endpoint must start with ws:// or wss://, got %q", c.WSEndpoint)
	}
	if c.RPCEndpoint != "" && !strings.HasPrefix(c.RPCEndpoint, "http://") && !strings.HasPrefix(c.RPCEndpoint, "https://") {
		return fmt.Errorf("rpc endpoint must start with http:// or https://, got %q", c.RPCEndpoint)
	}
	if c.BackfillLimit < 0 {
		return errors.New("--backfill-limit must not be negative")
	}
	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("unknown commitment %q", c.Commitment)
	}
	return nil
}

// Replay configures cmd/replay.
type Replay struct {
	Common
	FromSlot    uint64
	ToSlot      uint64 // 0 means the latest committed slot
	WindowSlots uint64
	Verify      bool
}

// ParseReplay parses replay flags from args with environment defaults.
func ParseReplay(args []string) (*Replay, error) {
	cfg := &Replay{}
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)

	var brokers string
	cfg.register(fs, &brokers)
	fs.Uint64Var(&cfg.FromSlot, "from-slot", 0, "First slot to replay")
	fs.Uint64Var(&cfg.ToSlot, "to-slot", 0, "Last slot to replay (0 = latest committed)")
	fs.Uint64Var(&cfg.WindowSlots, "window", uint64(EnvInt("REPLAY_WINDOW", 10_000)), "Slots loaded per batch")
	fs.BoolVar(&cfg.Verify, "verify", true, "Verify every factory seen during the replay")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = SplitList(brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks replay settings.
func (c *Replay) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Storage != StoragePostgres {
		return errors.New("replay reads a persisted event log; use --storage postgres")
	}
	if c.ToSlot != 0 && c.FromSlot > c.ToSlot {
		return fmt.Errorf("--from-slot %d is past --to-slot %d", c.FromSlot, c.ToSlot)
	}
	if c.WindowSlots == 0 {
		return errors.New("--window must be positive")
	}
	return nil
}
