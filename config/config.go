package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	StateStaleAfter time.Duration `env:"STATE_STALE_AFTER" envDefault:"30s"`

	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Redis RedisConfig `envPrefix:"REDIS_"`
}

// RedisConfig enables cross-instance fan-out when Addr is set.
type RedisConfig struct {
	Addr          string `env:"ADDR"`
	Password      string `env:"PASSWORD"`
	DB            int    `env:"DB" envDefault:"0"`
	ChannelPrefix string `env:"CHANNEL_PREFIX" envDefault:"mediasync"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Load reads an optional .env file and then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return Parse()
}

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

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.StateStaleAfter <= 0 {
		errs = append(errs, errors.New("STATE_STALE_AFTER must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) Addr() string { return ":" + c.Port }

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
