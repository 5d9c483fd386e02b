// Package config centralises runtime configuration for arbwatch services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where arbwatch operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ProviderSettings aggregates per-provider transport and fee configuration.
type ProviderSettings struct {
	WebsocketURL string        `yaml:"websocket_url,omitempty"`
	RESTURL      string        `yaml:"rest_url,omitempty"`
	TakerFeeBps  float64       `yaml:"taker_fee_bps"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	PriceScale   float64       `yaml:"price_scale,omitempty"`
}

// SnapshotSettings tunes the market snapshot store.
type SnapshotSettings struct {
	TTL                time.Duration `yaml:"ttl"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
}

// ScanSettings tunes the detection loops.
type ScanSettings struct {
	Interval     time.Duration `yaml:"interval"`
	MinSpreadPct float64       `yaml:"min_spread_pct"`
	MinNetPct    float64       `yaml:"min_net_pct"`
	DedupTTL     time.Duration `yaml:"dedup_ttl"`
	Timeframes   []string      `yaml:"timeframes"`
	ScriptDir    string        `yaml:"script_dir,omitempty"`
}

// NotifySettings tunes the notification pipeline.
type NotifySettings struct {
	DigestFlushInterval time.Duration `yaml:"digest_flush_interval"`
	ChunkLimit          int           `yaml:"chunk_limit"`
	RateWindow          time.Duration `yaml:"rate_window"`
}

// QueueSettings tunes the durable delivery queue.
type QueueSettings struct {
	Workers        int           `yaml:"workers"`
	Attempts       int           `yaml:"attempts"`
	Backoff        time.Duration `yaml:"backoff"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
}

// TelemetrySettings configures OTLP metric export.
type TelemetrySettings struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// TelegramSettings configures the chat-platform client.
type TelegramSettings struct {
	Token string `yaml:"token"`
}

// Settings is the arbwatch configuration tree loaded from defaults, file, and
// environment overrides.
type Settings struct {
	Environment Environment                 `yaml:"environment"`
	DatabaseDSN string                      `yaml:"database_dsn"`
	Debug       bool                        `yaml:"debug"`
	Symbols     []string                    `yaml:"symbols"`
	Enabled     []string                    `yaml:"enabled_providers"`
	Providers   map[string]ProviderSettings `yaml:"providers"`
	Snapshot    SnapshotSettings            `yaml:"snapshot"`
	Scan        ScanSettings                `yaml:"scan"`
	Notify      NotifySettings              `yaml:"notify"`
	Queue       QueueSettings               `yaml:"queue"`
	Telemetry   TelemetrySettings           `yaml:"telemetry"`
	Telegram    TelegramSettings            `yaml:"telegram"`
}

// Default returns the default arbwatch configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		DatabaseDSN: "",
		Debug:       false,
		Symbols:     []string{"BTCUSDT", "ETHUSDT"},
		Enabled: []string{
			"binance", "bybit", "okx", "kucoin", "gateio", "mexc", "bitget",
			"htx", "kraken", "coinbase", "bitfinex", "bitstamp", "cryptocom",
			"coingecko", "exchangerate",
		},
		Providers: map[string]ProviderSettings{},
		Snapshot: SnapshotSettings{
			TTL:                45 * time.Second,
			StalenessThreshold: 30 * time.Second,
		},
		Scan: ScanSettings{
			Interval:     15 * time.Second,
			MinSpreadPct: 0.2,
			MinNetPct:    0.05,
			DedupTTL:     10 * time.Minute,
			Timeframes:   []string{"1m", "5m", "1h"},
			ScriptDir:    "",
		},
		Notify: NotifySettings{
			DigestFlushInterval: time.Minute,
			ChunkLimit:          4096,
			RateWindow:          time.Hour,
		},
		Queue: QueueSettings{
			Workers:        4,
			Attempts:       5,
			Backoff:        10 * time.Second,
			ReplayInterval: 5 * time.Second,
		},
		Telemetry: TelemetrySettings{
			Enabled:  false,
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Telegram: TelegramSettings{Token: ""},
	}
}

// Load reads the YAML configuration at path on top of defaults, then applies
// environment variable overrides. A missing file is not an error; defaults
// plus environment suffice for development.
func Load(path string) (Settings, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("ARBWATCH_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_DSN")); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}

// Validate checks cross-field invariants before boot.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("config: unknown environment %q", s.Environment)
	}
	if s.Snapshot.TTL <= 0 {
		return fmt.Errorf("config: snapshot ttl must be positive")
	}
	if s.Snapshot.StalenessThreshold <= 0 {
		return fmt.Errorf("config: snapshot staleness threshold must be positive")
	}
	if s.Scan.Interval <= 0 {
		return fmt.Errorf("config: scan interval must be positive")
	}
	if s.Queue.Workers <= 0 {
		return fmt.Errorf("config: queue workers must be positive")
	}
	if s.Notify.ChunkLimit <= 0 {
		return fmt.Errorf("config: notify chunk limit must be positive")
	}
	for name, provider := range s.Providers {
		if provider.PollInterval < 0 {
			return fmt.Errorf("config: provider %s poll interval must not be negative", name)
		}
		if provider.TakerFeeBps < 0 {
			return fmt.Errorf("config: provider %s taker fee must not be negative", name)
		}
	}
	return nil
}

// Provider returns the settings for the named provider, zero value when absent.
func (s Settings) Provider(name string) ProviderSettings {
	if s.Providers == nil {
		return ProviderSettings{}
	}
	return s.Providers[name]
}
