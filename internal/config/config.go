package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Auth        AuthConfig        `yaml:"auth"`
	Store       StoreConfig       `yaml:"store"`
	Chain       ChainConfig       `yaml:"chain"`
	Sponsorship SponsorshipConfig `yaml:"sponsorship"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

// StoreConfig selects and configures the usage store backend.
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig configures the postgres usage store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MigrationsPath  string        `yaml:"migrations_path"`
	RunMigrations   bool          `yaml:"run_migrations"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the redis usage store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ChainConfig configures the RPC endpoint and submission channels.
type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	Timeout        time.Duration `yaml:"timeout"`
	DirectAccount  string        `yaml:"direct_account"`
	SponsorAccount string        `yaml:"sponsor_account"` // empty disables the sponsored channel
	SponsorRPS     float64       `yaml:"sponsor_rps"`
	SponsorBurst   int           `yaml:"sponsor_burst"`
}

// SponsorshipConfig configures the policy table and reservation handling.
// An empty Policies list uses the built-in table.
type SponsorshipConfig struct {
	Policies       []sponsorship.Policy `yaml:"policies"`
	ReservationTTL time.Duration        `yaml:"reservation_ttl"`
}

// Load loads the configuration from config/config.yaml.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "config.yaml"))
}

// LoadFromPath loads the configuration from a specific path. Environment
// variables override file values for secrets.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or returns the default when the
// file is not found.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		cfg = DefaultConfig()
		cfg.applyEnv()
	}
	return cfg
}

// DefaultConfig returns the default configuration: memory store, local RPC,
// sponsored channel disabled.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				ConnMaxLifetime: 30 * time.Minute,
				MigrationsPath:  "migrations",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Chain: ChainConfig{
			RPCURL:       "http://localhost:8545",
			Timeout:      30 * time.Second,
			SponsorRPS:   10,
			SponsorBurst: 20,
		},
		Sponsorship: SponsorshipConfig{
			ReservationTTL: 10 * time.Minute,
		},
	}
}

// applyEnv overrides secret-bearing fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("SPONSORD_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SPONSORD_POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv("SPONSORD_REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("SPONSORD_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("SPONSORD_SPONSOR_ACCOUNT"); v != "" {
		c.Chain.SponsorAccount = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store: postgres driver requires a dsn")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store: redis driver requires an addr")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain: rpc_url is required")
	}
	if c.Chain.DirectAccount == "" {
		return fmt.Errorf("chain: direct_account is required")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth: enabled without a jwt secret")
	}
	return nil
}

// Catalog builds the policy catalog from the configured table, falling back
// to the built-in policies when none are configured.
func (c *Config) Catalog() (*sponsorship.Catalog, error) {
	if len(c.Sponsorship.Policies) == 0 {
		return sponsorship.DefaultCatalog(), nil
	}
	return sponsorship.NewCatalog(c.Sponsorship.Policies)
}
