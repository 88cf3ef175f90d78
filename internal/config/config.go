package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Nonce store backends selectable via NONCE_BACKEND
const (
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

type Config struct {
	Server   ServerConfig
	Nonce    NonceConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type NonceConfig struct {
	Backend             string        `envconfig:"NONCE_BACKEND" default:"redis"`
	TTL                 time.Duration `envconfig:"NONCE_TTL" default:"5m"`
	TimestampTolerance  time.Duration `envconfig:"NONCE_TIMESTAMP_TOLERANCE" default:"3m"`
	MaxGenerateAttempts int           `envconfig:"NONCE_MAX_GENERATE_ATTEMPTS" default:"3"`
	StoreTTLSlack       time.Duration `envconfig:"NONCE_STORE_TTL_SLACK" default:"10m"`
}

type RedisConfig struct {
	Host         string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `envconfig:"REDIS_PASSWORD" default:""`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"3s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"2s"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"3306"`
	User            string        `envconfig:"DB_USER" default:"app"`
	Password        string        `envconfig:"DB_PASSWORD" default:"apppassword"`
	Name            string        `envconfig:"DB_NAME" default:"wallet_nonce"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

type WorkerConfig struct {
	CleanupInterval time.Duration `envconfig:"WORKER_CLEANUP_INTERVAL" default:"1m"`
	CleanupTimeout  time.Duration `envconfig:"WORKER_CLEANUP_TIMEOUT" default:"30s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Nonce.Backend {
	case BackendRedis, BackendMySQL, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown nonce backend %q", cfg.Nonce.Backend)
	}
	if cfg.Nonce.TimestampTolerance >= cfg.Nonce.TTL {
		return nil, fmt.Errorf("timestamp tolerance %v must be tighter than ttl %v",
			cfg.Nonce.TimestampTolerance, cfg.Nonce.TTL)
	}

	return &cfg, nil
}
