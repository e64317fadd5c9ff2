package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	strutil "ballotbox/pkg/platform/strings"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Server is the full service configuration, read from the environment.
type Server struct {
	Addr            string        `env:"ELECTIONS_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	// TrustedProxies are the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Any other peer is the client itself.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," envDefault:"127.0.0.1/32,::1/128"`

	Database  Database
	Auth      Auth
	Redis     RedisConfig
	Kafka     KafkaConfig
	Sweep     SweepConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	OTel      OTelConfig
}

type Database struct {
	Driver          string        `env:"DATABASE_DRIVER" envDefault:"memory"`
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`
}

type Auth struct {
	// JWTSigningKey validates HS256 member and admin tokens issued by the portal.
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	AdminMinRole  string `env:"ADMIN_MIN_ROLE" envDefault:"editor"`
	// AdminToken is a static operator token accepted in X-Admin-Token. Empty disables it.
	AdminToken string `env:"ADMIN_API_TOKEN"`
}

type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	TallyTTL     time.Duration `env:"TALLY_CACHE_TTL" envDefault:"5s"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"election-events"`
	// AuditBuffer is the async audit queue size; 0 publishes synchronously.
	AuditBuffer int `env:"AUDIT_BUFFER" envDefault:"1024"`
}

type SweepConfig struct {
	Enabled  bool          `env:"SWEEP_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	LockTTL  time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"25s"`
}

type RateLimitConfig struct {
	VoteLimit  int           `env:"VOTE_RATE_LIMIT" envDefault:"20"`
	VoteWindow time.Duration `env:"VOTE_RATE_WINDOW" envDefault:"1m"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type OTelConfig struct {
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ballotbox"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FromEnv parses and validates the server configuration.
func FromEnv() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Server) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	c.Kafka.Brokers = strutil.DedupeAndTrim(c.Kafka.Brokers)
	c.TrustedProxies = strutil.DedupeAndTrim(c.TrustedProxies)
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.RateLimit.VoteLimit < 0 || c.RateLimit.VoteWindow < 0 {
		return fmt.Errorf("vote rate limit settings must not be negative")
	}
	return nil
}
