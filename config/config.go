package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	AES       AESConfig       `mapstructure:"aes"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Signature SignatureConfig `mapstructure:"signature"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

// PaymentConfig tunes the payment lifecycle.
type PaymentConfig struct {
	Currency             string        `mapstructure:"currency"`
	IntentExpiry         time.Duration `mapstructure:"intent_expiry"`
	VerifyConfirmations  int           `mapstructure:"verify_confirmations"`
	SettleConfirmations  int           `mapstructure:"settle_confirmations"`
	AmountTolerance      string        `mapstructure:"amount_tolerance"` // decimal string, absolute
	AuthTimestampMaxSkew time.Duration `mapstructure:"auth_timestamp_max_skew"`
}

// SignatureConfig selects how client payment signatures are checked.
type SignatureConfig struct {
	Scheme string `mapstructure:"scheme"` // hmac or ecdsa
	// ServerKey signs issued challenges. Hex for ecdsa, raw for hmac.
	ServerKey string `mapstructure:"server_key"`
}

type WebhookConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseBackoff   time.Duration `mapstructure:"base_backoff"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	Tolerance     time.Duration `mapstructure:"tolerance"` // receiver-side timestamp window
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`
	DispatchLimit int           `mapstructure:"dispatch_limit"`
}

// LedgerConfig points at the chain node's JSON-RPC endpoint.
type LedgerConfig struct {
	URL      string        `mapstructure:"url"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type WorkerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Concurrency   int           `mapstructure:"concurrency"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type RateLimitConfig struct {
	Challenge int           `mapstructure:"challenge"` // per window per key
	Authorize int           `mapstructure:"authorize"`
	Window    time.Duration `mapstructure:"window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: Z402_.
// Nested keys use underscore: Z402_DATABASE_HOST, Z402_LEDGER_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "z402")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "z402-facilitator")
	v.SetDefault("aes.key", "")
	v.SetDefault("payment.currency", "ZEC")
	v.SetDefault("payment.intent_expiry", "1h")
	v.SetDefault("payment.verify_confirmations", 1)
	v.SetDefault("payment.settle_confirmations", 6)
	v.SetDefault("payment.amount_tolerance", "0.0001")
	v.SetDefault("payment.auth_timestamp_max_skew", "5m")
	v.SetDefault("signature.scheme", "hmac")
	v.SetDefault("signature.server_key", "")
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.base_backoff", "30s")
	v.SetDefault("webhook.max_backoff", "1h")
	v.SetDefault("webhook.tolerance", "5m")
	v.SetDefault("webhook.claim_ttl", "30s")
	v.SetDefault("webhook.dispatch_limit", 100)
	v.SetDefault("ledger.url", "http://localhost:8232")
	v.SetDefault("ledger.user", "")
	v.SetDefault("ledger.password", "")
	v.SetDefault("ledger.timeout", "15s")
	v.SetDefault("worker.sweep_interval", "30s")
	v.SetDefault("worker.concurrency", 8)
	v.SetDefault("worker.batch_size", 200)
	v.SetDefault("ratelimit.challenge", 60)
	v.SetDefault("ratelimit.authorize", 30)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: Z402_DATABASE_HOST -> database.host
	v.SetEnvPrefix("Z402")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
