// Package config loads runtime configuration from an optional YAML file and
// the IDGATE_* environment, environment winning.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string `yaml:"env" env:"IDGATE_ENV" env-default:"local"`
	HTTP   HTTP   `yaml:"http"`
	GRPC   GRPC   `yaml:"grpc"`
	DB     DB     `yaml:"db"`
	Tokens Tokens `yaml:"tokens"`
	Auth   Auth   `yaml:"auth"`
}

type HTTP struct {
	Address         string        `yaml:"address" env:"IDGATE_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"IDGATE_HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"IDGATE_HTTP_WRITE_TIMEOUT" env-default:"20s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDGATE_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"IDGATE_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"IDGATE_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	RatePerSecond   float64       `yaml:"rate_per_second" env:"IDGATE_HTTP_RATE_PER_SECOND" env-default:"50"`
	RateBurst       int           `yaml:"rate_burst" env:"IDGATE_HTTP_RATE_BURST" env-default:"100"`
}

type GRPC struct {
	// Address is optional; the gRPC health endpoint is not served when empty.
	Address string `yaml:"address" env:"IDGATE_GRPC_ADDR"`
}

type DB struct {
	// DSN is optional; the API falls back to the in-memory store when empty,
	// which is intended for local development only.
	DSN string `yaml:"dsn" env:"IDGATE_PG_DSN"`
}

type Tokens struct {
	AccessSecret string `yaml:"access_secret" env:"IDGATE_ACCESS_SECRET" env-required:"true"`
	// RefreshSecret falls back to AccessSecret when empty.
	RefreshSecret string        `yaml:"refresh_secret" env:"IDGATE_REFRESH_SECRET"`
	Issuer        string        `yaml:"issuer" env:"IDGATE_TOKEN_ISSUER" env-default:"idgate"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"IDGATE_ACCESS_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"IDGATE_REFRESH_TTL" env-default:"168h"`
}

type Auth struct {
	BcryptCost int `yaml:"bcrypt_cost" env:"IDGATE_BCRYPT_COST" env-default:"10"`
}

// Load reads the file named by IDGATE_CONFIG when set, then overlays the
// environment.
func Load() (*Config, error) {
	var cfg Config
	if path := os.Getenv("IDGATE_CONFIG"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for main packages: configuration errors are fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
