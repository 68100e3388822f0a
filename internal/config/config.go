// Package config loads process configuration from the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`

	DBDriver    string `env:"DB_DRIVER"    envDefault:"memory"`
	SQLiteFile  string `env:"SQLITE_FILE"  envDefault:"ladder.sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	BoltFile    string `env:"BOLT_FILE"    envDefault:"ladder.db"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"ladder.events"`

	ClickHouseAddr     string `env:"CLICKHOUSE_ADDR"`
	ClickHouseDB       string `env:"CLICKHOUSE_DB"       envDefault:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER"     envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`

	Port     string `env:"PORT"      envDefault:"3000"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"50051"`

	MaxOutgoing    int           `env:"MAX_OUTGOING"    envDefault:"1"`
	MaxIncoming    int           `env:"MAX_INCOMING"    envDefault:"1"`
	ResultGrace    time.Duration `env:"RESULT_GRACE"    envDefault:"10m"`
	HistoryDefault int           `env:"HISTORY_DEFAULT" envDefault:"10"`
	ExpiryCron     string        `env:"EXPIRY_CRON"     envDefault:"@every 1m"`

	Archive   ArchiveConfig
	Authentik AuthentikConfig
}

// ArchiveConfig points at an S3-compatible bucket for deleted tournament snapshots.
// An empty bucket disables archiving
type ArchiveConfig struct {
	Bucket          string `env:"ARCHIVE_BUCKET"`
	Endpoint        string `env:"ARCHIVE_ENDPOINT"`
	Region          string `env:"ARCHIVE_REGION" envDefault:"auto"`
	AccessKeyID     string `env:"ARCHIVE_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"ARCHIVE_SECRET_ACCESS_KEY"`
}

// AuthentikConfig configures the OAuth2 identity provider
type AuthentikConfig struct {
	URL          string `env:"AUTHENTIK_URL"`
	ClientID     string `env:"AUTHENTIK_CLIENT_ID"`
	ClientSecret string `env:"AUTHENTIK_CLIENT_SECRET"`
	RedirectURL  string `env:"AUTHENTIK_REDIRECT_URL" envDefault:"http://localhost:3000/auth/callback"`
	AdminGroup   string `env:"AUTHENTIK_ADMIN_GROUP"  envDefault:"ladder-admins"`
}

// Load reads an optional .env file and then parses the environment
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the process environment only
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the env parser cannot
func (c Config) Validate() error {
	switch strings.ToLower(c.DBDriver) {
	case "memory", "sqlite", "postgres", "bolt":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	// development falls back to the SQLite-backed postgres mock
	if strings.EqualFold(c.DBDriver, "postgres") && c.DatabaseURL == "" && !c.Development() {
		return errors.New("DATABASE_URL is required for the postgres driver")
	}
	if c.MaxOutgoing < 1 || c.MaxIncoming < 1 {
		return fmt.Errorf("challenge caps must be at least 1 (outgoing=%d incoming=%d)", c.MaxOutgoing, c.MaxIncoming)
	}
	if c.ResultGrace < 0 {
		return fmt.Errorf("RESULT_GRACE must not be negative: %s", c.ResultGrace)
	}
	if c.HistoryDefault < 1 {
		return fmt.Errorf("HISTORY_DEFAULT must be positive: %d", c.HistoryDefault)
	}
	return nil
}

// Development reports whether the process runs with embedded infrastructure
// and mock identity
func (c Config) Development() bool {
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local":
		return true
	}
	return false
}
