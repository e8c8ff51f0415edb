// Package config loads process settings. Later sources win: built-in
// defaults, the YAML file, a .env file, then PLENUM_* environment variables.
// The CLI applies its flags on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLENUM_"

// Config is the complete process configuration.
type Config struct {
	Database Database `yaml:"database"`
	Server   Server   `yaml:"server"`
	Media    Media    `yaml:"media"`
	Log      Log      `yaml:"log"`
	Dispatch Dispatch `yaml:"dispatch"`
}

// Database selects the backing store.
type Database struct {
	Driver string `yaml:"driver"` // "sqlite" | "postgres"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Server configures the HTTP transport.
type Server struct {
	Addr                 string `yaml:"addr"`
	InternalAuthPassword string `yaml:"internal_auth_password"`
	// LockRetries is how often a request failing with LockConflict is
	// dispatched again before the conflict is returned.
	LockRetries int `yaml:"lock_retries"`
}

// Media selects the blob service.
type Media struct {
	Driver    string `yaml:"driver"` // "memory" | "s3"
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Log configures the default slog logger.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Dispatch tunes the engine.
type Dispatch struct {
	MaxDepth int `yaml:"max_depth"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database: Database{Driver: "sqlite", Path: "plenum.db"},
		Server:   Server{Addr: ":9002", LockRetries: 3},
		Media:    Media{Driver: "memory"},
		Log:      Log{Level: "info", Format: "text"},
		Dispatch: Dispatch{MaxDepth: 32},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_PATH", &c.Database.Path)
	str("DATABASE_DSN", &c.Database.DSN)
	str("SERVER_ADDR", &c.Server.Addr)
	str("SERVER_INTERNAL_AUTH_PASSWORD", &c.Server.InternalAuthPassword)
	str("MEDIA_DRIVER", &c.Media.Driver)
	str("MEDIA_BUCKET", &c.Media.Bucket)
	str("MEDIA_REGION", &c.Media.Region)
	str("MEDIA_ENDPOINT", &c.Media.Endpoint)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup(EnvPrefix + "MEDIA_PATH_STYLE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sMEDIA_PATH_STYLE: %w", EnvPrefix, err)
		}
		c.Media.PathStyle = b
	}
	if err := num("SERVER_LOCK_RETRIES", &c.Server.LockRetries); err != nil {
		return err
	}
	return num("DISPATCH_MAX_DEPTH", &c.Dispatch.MaxDepth)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q: must be sqlite or postgres", c.Database.Driver)
	}
	switch c.Media.Driver {
	case "memory":
	case "s3":
		if c.Media.Bucket == "" {
			return errors.New("media.bucket is required for s3")
		}
	default:
		return fmt.Errorf("media.driver %q: must be memory or s3", c.Media.Driver)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	if c.Server.LockRetries < 0 {
		return errors.New("server.lock_retries must not be negative")
	}
	if c.Dispatch.MaxDepth <= 0 {
		return errors.New("dispatch.max_depth must be positive")
	}
	return nil
}

// SlogLevel maps the configured level name.
func (l Log) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: must be debug, info, warn or error", l.Level)
}

// Handler builds the slog handler for w. verbose forces debug.
func (l Log) Handler(w io.Writer, verbose bool) slog.Handler {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
