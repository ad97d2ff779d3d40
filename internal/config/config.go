// Package config loads process configuration from an optional YAML file and
// ACCESS_* environment variables. Environment values win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	LogLevel    string `yaml:"log_level"`

	AMQPURL    string `yaml:"amqp_url"`
	GrantQueue string `yaml:"grant_queue"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	SlackTimeout    time.Duration `yaml:"slack_timeout"`
	SlackRatePerMin float64       `yaml:"slack_rate_per_min"`
	SlackBurst      int           `yaml:"slack_burst"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Version string `yaml:"-"`
	Commit  string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		LogLevel:        "info",
		GrantQueue:      "access.grants",
		KafkaTopic:      "access.events",
		SlackTimeout:    10 * time.Second,
		SlackRatePerMin: 20,
		SlackBurst:      3,
		ShutdownTimeout: 10 * time.Second,
		Version:         "dev",
		Commit:          "none",
	}
}

// Load reads path (if not empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("ACCESS_DATABASE_URL", &c.DatabaseURL)
	setString("ACCESS_HTTP_ADDR", &c.HTTPAddr)
	setString("ACCESS_GRPC_ADDR", &c.GRPCAddr)
	setString("ACCESS_LOG_LEVEL", &c.LogLevel)
	setString("ACCESS_AMQP_URL", &c.AMQPURL)
	setString("ACCESS_GRANT_QUEUE", &c.GrantQueue)
	setString("ACCESS_KAFKA_TOPIC", &c.KafkaTopic)
	setString("ACCESS_VERSION", &c.Version)
	setString("ACCESS_COMMIT", &c.Commit)

	if v := os.Getenv("ACCESS_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = splitList(v)
	}

	var errs []error
	if v := os.Getenv("ACCESS_SLACK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ACCESS_SLACK_TIMEOUT: %w", err))
		}
		c.SlackTimeout = d
	}
	if v := os.Getenv("ACCESS_SLACK_RATE_PER_MIN"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("ACCESS_SLACK_RATE_PER_MIN: %w", err))
		}
		c.SlackRatePerMin = f
	}
	if v := os.Getenv("ACCESS_SLACK_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ACCESS_SLACK_BURST: %w", err))
		}
		c.SlackBurst = n
	}
	if v := os.Getenv("ACCESS_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ACCESS_SHUTDOWN_TIMEOUT: %w", err))
		}
		c.ShutdownTimeout = d
	}
	return errors.Join(errs...)
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.SlackTimeout <= 0 {
		errs = append(errs, errors.New("slack_timeout must be positive"))
	}
	if c.SlackRatePerMin < 0 {
		errs = append(errs, errors.New("slack_rate_per_min must not be negative"))
	}
	if c.SlackRatePerMin > 0 && c.SlackBurst < 1 {
		errs = append(errs, errors.New("slack_burst must be at least 1"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka_topic is required with kafka_brokers"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Deferred reports whether grants go through the task queue.
func (c *Config) Deferred() bool { return c.AMQPURL != "" }

// EventsEnabled reports whether grant events are published to Kafka.
func (c *Config) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 }

// SlogLevel maps LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
