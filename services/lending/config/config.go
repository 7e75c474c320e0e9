package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vaultledger/gateway/middleware"
	"vaultledger/observability/logging"
	telemetry "vaultledger/observability/otel"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"

	defaultListen       = ":8645"
	defaultMarketConfig = "market.toml"
	defaultDataDir      = "./vaultd-data"
)

// Environment overrides applied after the file is decoded.
const (
	EnvListen       = "VAULTD_LISTEN"
	EnvMarketConfig = "VAULTD_MARKET_CONFIG"
	EnvDataDir      = "VAULTD_DATA_DIR"
	EnvBackend      = "VAULTD_STORAGE_BACKEND"
	EnvLogLevel     = "VAULTD_LOG_LEVEL"
	EnvAuthSecret   = "VAULTD_AUTH_HMAC_SECRET"
	EnvFaucet       = "VAULTD_FAUCET_ENABLED"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
	EnvOTLPInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime settings for vaultd.
type Config struct {
	ListenAddress string `yaml:"listen"`
	Environment   string `yaml:"environment"`
	// MarketConfig is the TOML file describing assets, vaults and LTVs.
	MarketConfig string                          `yaml:"market_config"`
	Storage      StorageConfig                   `yaml:"storage"`
	TLS          TLSConfig                       `yaml:"tls"`
	Auth         middleware.AuthConfig           `yaml:"auth"`
	RateLimits   map[string]middleware.RateLimit `yaml:"rate_limits"`
	CORS         middleware.CORSConfig           `yaml:"cors"`
	Logging      LoggingConfig                   `yaml:"logging"`
	Telemetry    telemetry.Config                `yaml:"telemetry"`
	// FaucetEnabled exposes the admin endpoint that mints asset tokens.
	FaucetEnabled bool          `yaml:"faucet_enabled"`
	Timeouts      TimeoutConfig `yaml:"timeouts"`
	LogRequests   bool          `yaml:"log_requests"`
}

// StorageConfig selects the ledger database.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

type LoggingConfig struct {
	Level string              `yaml:"level"`
	File  *logging.FileConfig `yaml:"file"`
}

type TimeoutConfig struct {
	ReadHeader Duration `yaml:"read_header"`
	Read       Duration `yaml:"read"`
	Write      Duration `yaml:"write"`
	Idle       Duration `yaml:"idle"`
	Shutdown   Duration `yaml:"shutdown"`
}

// Default returns an insecure in-memory development configuration.
func Default() Config {
	cfg := Config{
		ListenAddress: defaultListen,
		MarketConfig:  defaultMarketConfig,
		Storage:       StorageConfig{Backend: BackendMemory},
		TLS:           TLSConfig{AllowInsecure: true},
		RateLimits: map[string]middleware.RateLimit{
			"lending": {RatePerSecond: 50, Burst: 100},
			"admin":   {RatePerSecond: 5, Burst: 10},
		},
		LogRequests: true,
	}
	cfg.normalize()
	return cfg
}

// Load reads the YAML configuration from disk, applies environment overrides
// and validates the result. An empty path yields Default with overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.ListenAddress = stringFromEnv(EnvListen, cfg.ListenAddress)
	cfg.MarketConfig = stringFromEnv(EnvMarketConfig, cfg.MarketConfig)
	cfg.Storage.DataDir = stringFromEnv(EnvDataDir, cfg.Storage.DataDir)
	cfg.Storage.Backend = stringFromEnv(EnvBackend, cfg.Storage.Backend)
	cfg.Logging.Level = stringFromEnv(EnvLogLevel, cfg.Logging.Level)
	cfg.Auth.HMACSecret = stringFromEnv(EnvAuthSecret, cfg.Auth.HMACSecret)
	cfg.FaucetEnabled = boolFromEnv(EnvFaucet, cfg.FaucetEnabled)
	cfg.Telemetry.Endpoint = stringFromEnv(EnvOTLPEndpoint, cfg.Telemetry.Endpoint)
	if raw := strings.TrimSpace(os.Getenv(EnvOTLPHeaders)); raw != "" {
		cfg.Telemetry.Headers = telemetry.ParseHeaders(raw)
	}
	cfg.Telemetry.Insecure = boolFromEnv(EnvOTLPInsecure, cfg.Telemetry.Insecure)
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.MarketConfig = strings.TrimSpace(cfg.MarketConfig)
	if cfg.MarketConfig == "" {
		cfg.MarketConfig = defaultMarketConfig
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	cfg.Storage.DataDir = strings.TrimSpace(cfg.Storage.DataDir)
	if cfg.Storage.DataDir == "" && cfg.Storage.Backend != BackendMemory {
		cfg.Storage.DataDir = defaultDataDir
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "vaultd"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = cfg.Environment
	}
	defaults := map[*Duration]time.Duration{
		&cfg.Timeouts.ReadHeader: 5 * time.Second,
		&cfg.Timeouts.Read:       15 * time.Second,
		&cfg.Timeouts.Write:      15 * time.Second,
		&cfg.Timeouts.Idle:       60 * time.Second,
		&cfg.Timeouts.Shutdown:   10 * time.Second,
	}
	for field, fallback := range defaults {
		if field.Duration <= 0 {
			field.Duration = fallback
		}
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Storage.Backend {
	case BackendMemory, BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth: hmac_secret required when auth is enabled")
	}
	for key, limit := range cfg.RateLimits {
		if limit.RatePerSecond < 0 || limit.Burst < 0 || limit.DefaultTokens < 0 {
			return fmt.Errorf("rate_limits.%s: values must be non-negative", key)
		}
		for route, cost := range limit.Tokens {
			if cost <= 0 || (limit.Burst > 0 && cost > limit.Burst) {
				return fmt.Errorf("rate_limits.%s: token cost for %q must be within [1, burst]", key, route)
			}
		}
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.Auth.HMACSecret != "" {
		clone.Auth.HMACSecret = "***"
	}
	if len(clone.Telemetry.Headers) > 0 {
		masked := make(map[string]string, len(clone.Telemetry.Headers))
		for key := range clone.Telemetry.Headers {
			masked[key] = "***"
		}
		clone.Telemetry.Headers = masked
	}
	return clone
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
