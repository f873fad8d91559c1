package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultPort is used when neither the config file nor PORT name a usable port.
// The container image sets PORT=80.
const DefaultPort = 3000

// Config holds everything the process reads once at startup.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Telemetry struct {
		Enabled       bool          `yaml:"enabled"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"telemetry"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Port = DefaultPort
	cfg.LogLevel = "info"
	cfg.LogFormat = "console"
	cfg.Telemetry.FlushInterval = 30 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if _, ok := validPort(cfg.Port); !ok {
			return cfg, fmt.Errorf("parse config: invalid port %d", cfg.Port)
		}
	}
	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if p, ok := ParsePort(getenv("PORT")); ok {
		cfg.Port = p
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	switch strings.ToLower(getenv("TELEMETRY")) {
	case "1", "true", "yes", "on":
		cfg.Telemetry.Enabled = true
	case "0", "false", "no", "off":
		cfg.Telemetry.Enabled = false
	}
}

// ParsePort reports whether s is a usable TCP port.
func ParsePort(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return validPort(n)
}

func validPort(n int) (int, bool) {
	if n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}

// Addr is the host:port the server binds.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseLevel maps a level name onto zerolog, falling back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
