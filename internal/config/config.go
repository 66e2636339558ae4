// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host            string
	Port            int
	LogLevel        string
	LogFormat       string
	WriteTimeout    time.Duration
	ActionTimeout   time.Duration
	IdleTimeout     time.Duration
	ReadLimit       int64
	QueueWarnDepth  int
	MatchRetention  time.Duration
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

func Default() Config {
	return Config{
		Port:            8001,
		LogLevel:        "info",
		LogFormat:       "json",
		WriteTimeout:    5 * time.Second,
		ActionTimeout:   2 * time.Second,
		ReadLimit:       64 << 10,
		QueueWarnDepth:  256,
		MatchRetention:  10 * time.Minute,
		AllowedOrigins:  []string{"*"},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Addr is the listen address. An empty host binds every interface.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load reads files (default ".env") if they exist and then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, falling back to defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	p := parser{lookup: lookup}

	c.Host = p.str("HOST", c.Host)
	c.Port = p.number("PORT", c.Port)
	c.LogLevel = strings.ToLower(p.str("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(p.str("LOG_FORMAT", c.LogFormat))
	c.WriteTimeout = p.duration("WRITE_TIMEOUT", c.WriteTimeout)
	c.ActionTimeout = p.duration("ACTION_TIMEOUT", c.ActionTimeout)
	c.IdleTimeout = p.duration("IDLE_TIMEOUT", c.IdleTimeout)
	c.ReadLimit = int64(p.number("READ_LIMIT", int(c.ReadLimit)))
	c.QueueWarnDepth = p.number("QUEUE_WARN_DEPTH", c.QueueWarnDepth)
	c.MatchRetention = p.duration("MATCH_RETENTION", c.MatchRetention)
	c.ShutdownTimeout = p.duration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.AllowedOrigins = splitList(v)
	}

	if p.err != nil {
		return Config{}, p.err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("read limit must be positive, got %d", c.ReadLimit)
	}
	return nil
}

// parser keeps the first error it hits.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok && v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) number(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	if err != nil {
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
