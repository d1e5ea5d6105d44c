// Package config loads the relay's runtime settings: defaults, an optional
// JSON config file, a .env file and environment overrides, in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// Defaults used when a setting is missing or invalid.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 5000
	DefaultLogFile            = "logs/chat.log"
	DefaultMaxMessageSize     = 1_000_000
	DefaultRateLimitBurst     = 5
	DefaultRateRefillInterval = time.Second
	DefaultConfigFile         = "config.json"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"min=1"`
	RefillInterval time.Duration `validate:"min=1ms"`
}

// Config holds the server configuration settings.
type Config struct {
	Host           string   `validate:"omitempty,ip|hostname"`
	Port           int      `validate:"min=1,max=65535"`
	LogFile        string   `validate:"required"`
	AllowedOrigins []string `validate:"dive,required"`
	MaxMessageSize int64    `validate:"min=1"`
	RateLimit      RateLimitConfig
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Host:    DefaultHost,
		Port:    DefaultPort,
		LogFile: DefaultLogFile,
		AllowedOrigins: []string{
			"http://localhost:5000",
			"http://127.0.0.1:5000",
		},
		MaxMessageSize: DefaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          DefaultRateLimitBurst,
			RefillInterval: DefaultRateRefillInterval,
		},
	}
}

// fileConfig mirrors the keys accepted in config.json. Absent keys keep the
// current value.
type fileConfig struct {
	Host                    *string  `json:"host"`
	Port                    *int     `json:"port"`
	LogFile                 *string  `json:"log_file"`
	AllowedOrigins          []string `json:"allowed_origins"`
	MaxMessageSize          *int64   `json:"max_message_size"`
	RateLimitBurst          *int     `json:"rate_limit_burst"`
	RateLimitRefillInterval *string  `json:"rate_limit_refill_interval"`
}

// envConfig lists the environment overrides. Unset variables leave the
// pointer nil.
type envConfig struct {
	Host                    *string `env:"CHAT_HOST"`
	Port                    *int    `env:"CHAT_PORT"`
	LogFile                 *string `env:"CHAT_LOG_FILE"`
	AllowedOrigins          *string `env:"CHAT_ALLOWED_ORIGINS"`
	MaxMessageSize          *int    `env:"CHAT_MAX_MESSAGE_SIZE"`
	RateLimitBurst          *int    `env:"CHAT_RATE_LIMIT_BURST"`
	RateLimitRefillInterval *string `env:"CHAT_RATE_LIMIT_REFILL_INTERVAL"`
}

// Loader reads configuration from a filesystem and the process environment.
type Loader struct {
	fs       afero.Fs
	validate *validator.Validate
	// DotEnv files loaded before reading the environment. Missing files are
	// ignored.
	DotEnv []string
}

// NewLoader creates a Loader reading files from fsys.
func NewLoader(fsys afero.Fs) *Loader {
	return &Loader{
		fs:       fsys,
		validate: validator.New(),
		DotEnv:   []string{".env"},
	}
}

// Load builds the configuration. A missing or malformed config file is not an
// error: the defaults are used and a warning is logged. Invalid values from
// any source are replaced by their defaults.
func (l *Loader) Load(path string) Config {
	cfg := Default()

	if path != "" {
		if err := l.applyFile(&cfg, path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Info("No config file found, using defaults", "path", path)
			} else {
				slog.Warn("Ignoring malformed config file, using defaults", "path", path, "error", err)
			}
			cfg = Default()
		}
	}

	l.loadDotEnv()
	if err := applyEnv(&cfg); err != nil {
		slog.Warn("Ignoring invalid environment overrides", "error", err)
	}

	return l.Sanitize(cfg)
}

func (l *Loader) applyFile(cfg *Config, path string) error {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.LogFile != nil {
		cfg.LogFile = *fc.LogFile
	}
	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.MaxMessageSize != nil {
		cfg.MaxMessageSize = *fc.MaxMessageSize
	}
	if fc.RateLimitBurst != nil {
		cfg.RateLimit.Burst = *fc.RateLimitBurst
	}
	if fc.RateLimitRefillInterval != nil {
		cfg.RateLimit.RefillInterval = parseRefillInterval(*fc.RateLimitRefillInterval, cfg.RateLimit.RefillInterval)
	}
	return nil
}

func (l *Loader) loadDotEnv() {
	for _, name := range l.DotEnv {
		exists, err := afero.Exists(l.fs, name)
		if err != nil || !exists {
			continue
		}
		data, err := afero.ReadFile(l.fs, name)
		if err != nil {
			slog.Warn("Failed to read env file", "path", name, "error", err)
			continue
		}
		vars, err := godotenv.UnmarshalBytes(data)
		if err != nil {
			slog.Warn("Failed to parse env file", "path", name, "error", err)
			continue
		}
		setUnsetEnv(vars)
	}
}

func applyEnv(cfg *Config) error {
	var ec envConfig
	if _, err := env.UnmarshalFromEnviron(&ec); err != nil {
		return err
	}

	if ec.Host != nil {
		cfg.Host = *ec.Host
	}
	if ec.Port != nil {
		cfg.Port = *ec.Port
	}
	if ec.LogFile != nil {
		cfg.LogFile = *ec.LogFile
	}
	if ec.AllowedOrigins != nil {
		cfg.AllowedOrigins = parseOrigins(*ec.AllowedOrigins)
	}
	if ec.MaxMessageSize != nil {
		cfg.MaxMessageSize = int64(*ec.MaxMessageSize)
	}
	if ec.RateLimitBurst != nil {
		cfg.RateLimit.Burst = *ec.RateLimitBurst
	}
	if ec.RateLimitRefillInterval != nil {
		cfg.RateLimit.RefillInterval = parseRefillInterval(*ec.RateLimitRefillInterval, cfg.RateLimit.RefillInterval)
	}
	return nil
}

// Sanitize validates cfg and resets every invalid field to its default.
func (l *Loader) Sanitize(cfg Config) Config {
	err := l.validate.Struct(cfg)
	if err == nil {
		return cfg
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		slog.Warn("Config validation failed, using defaults", "error", err)
		return Default()
	}

	def := Default()
	for _, fe := range verrs {
		slog.Warn("Invalid config value, using default", "field", fe.Namespace(), "value", fe.Value(), "rule", fe.Tag())
		switch {
		case fe.StructField() == "Host":
			cfg.Host = def.Host
		case fe.StructField() == "Port":
			cfg.Port = def.Port
		case fe.StructField() == "LogFile":
			cfg.LogFile = def.LogFile
		case strings.HasPrefix(fe.StructNamespace(), "Config.AllowedOrigins"):
			cfg.AllowedOrigins = def.AllowedOrigins
		case fe.StructField() == "MaxMessageSize":
			cfg.MaxMessageSize = def.MaxMessageSize
		case fe.StructField() == "Burst":
			cfg.RateLimit.Burst = def.RateLimit.Burst
		case fe.StructField() == "RefillInterval":
			cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
		}
	}
	return cfg
}

// setUnsetEnv exports vars without overriding anything already set in the
// process environment, matching godotenv.Load.
func setUnsetEnv(vars map[string]string) {
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			slog.Warn("Failed to export env file variable", "key", k, "error", err)
		}
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseRefillInterval accepts a Go duration ("500ms") or a whole number of
// seconds ("2").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
