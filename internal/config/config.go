// Package config loads pyexec's operator-facing configuration: server
// bind address, pool/cache sizing, the optional Redis cache mirror and
// Quarantine Backend, and the global Settings profile. It follows the
// teacher's config layer shape (YAML + environment overrides + a
// sync.Once singleton) scoped to the evaluation core's own surface.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"github.com/ocx/pyexec/internal/types"
)

// ServerConfig configures cmd/evalserver's HTTP/WS listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PoolConfig sizes the Interpreter Pool.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// RedisMirrorConfig configures the optional distributed cache-warm mirror (§4.3.1).
type RedisMirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// CacheConfig sizes the Bytecode Cache and its optional mirror.
type CacheConfig struct {
	Capacity    int               `yaml:"capacity"`
	RedisMirror RedisMirrorConfig `yaml:"redis_mirror"`
}

// QuarantineConfig configures the optional Quarantine Backend escalation tier (§4.9).
type QuarantineConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Image         string `yaml:"image"`
	Threshold     int    `yaml:"threshold"`
	WindowSeconds int    `yaml:"window_seconds"`
}

// MetricsConfig configures the prometheus registry's exposition.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the top-level YAML document shape. Settings carries the
// global (zero-profile) evaluation defaults; named profile overrides
// are resolved by Manager, not Config itself.
type Config struct {
	Environment string           `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	Pool        PoolConfig       `yaml:"pool"`
	Cache       CacheConfig      `yaml:"cache"`
	Quarantine  QuarantineConfig `yaml:"quarantine"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Settings    types.Settings   `yaml:"settings"`
}

var (
	once    sync.Once
	cfg     *Config
	cfgLock sync.RWMutex
)

// Get returns the process-wide Config singleton, loading it from
// CONFIG_PATH (default "config.yaml") on first call. A missing or
// unreadable file is not fatal: Get falls back to an all-defaults
// Config, matching the teacher's tolerant startup behavior.
func Get() *Config {
	once.Do(func() {
		loaded, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: falling back to defaults", "error", err)
			loaded = &Config{}
		}
		loaded.applyEnvOverrides()
		cfgLock.Lock()
		cfg = loaded
		cfgLock.Unlock()
	})
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// LoadConfig reads and decodes a YAML config file, then applies
// zero-value defaults. It does not apply environment overrides; Get
// does that once, for the singleton.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c Config
	if err := yaml.NewDecoder(f).Decode(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// applyEnvOverrides lets operators override any YAML field without
// editing the file, matching the teacher's env-var convention.
func (c *Config) applyEnvOverrides() {
	c.Environment = getEnv("PYEXEC_ENVIRONMENT", c.Environment)

	c.Server.Host = getEnv("PYEXEC_SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("PYEXEC_SERVER_PORT", c.Server.Port)

	c.Pool.Size = getEnvInt("PYEXEC_POOL_SIZE", c.Pool.Size)

	c.Cache.Capacity = getEnvInt("PYEXEC_CACHE_CAPACITY", c.Cache.Capacity)
	c.Cache.RedisMirror.Enabled = getEnvBool("PYEXEC_REDIS_MIRROR_ENABLED", c.Cache.RedisMirror.Enabled)
	c.Cache.RedisMirror.Addr = getEnv("PYEXEC_REDIS_MIRROR_ADDR", c.Cache.RedisMirror.Addr)
	c.Cache.RedisMirror.Channel = getEnv("PYEXEC_REDIS_MIRROR_CHANNEL", c.Cache.RedisMirror.Channel)

	c.Quarantine.Enabled = getEnvBool("PYEXEC_QUARANTINE_ENABLED", c.Quarantine.Enabled)
	c.Quarantine.Image = getEnv("PYEXEC_QUARANTINE_IMAGE", c.Quarantine.Image)
	c.Quarantine.Threshold = getEnvInt("PYEXEC_QUARANTINE_THRESHOLD", c.Quarantine.Threshold)
	c.Quarantine.WindowSeconds = getEnvInt("PYEXEC_QUARANTINE_WINDOW_SECONDS", c.Quarantine.WindowSeconds)

	c.Metrics.Enabled = getEnvBool("PYEXEC_METRICS_ENABLED", c.Metrics.Enabled)

	c.Settings.TimeoutNS = uint64(getEnvInt("PYEXEC_TIMEOUT_NS", int(c.Settings.TimeoutNS)))
	c.Settings.MaxOutputBytes = uint64(getEnvInt("PYEXEC_MAX_OUTPUT_BYTES", int(c.Settings.MaxOutputBytes)))
	if v := getEnv("PYEXEC_ALLOWED_MODULES", ""); v != "" {
		c.Settings.AllowedModules = splitCSV(v)
	}

	c.applyDefaults()
}

// applyDefaults fills zero-valued fields with the module's defaults.
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = 8
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 512
	}
	if c.Cache.RedisMirror.Addr == "" {
		c.Cache.RedisMirror.Addr = "127.0.0.1:6379"
	}
	if c.Cache.RedisMirror.Channel == "" {
		c.Cache.RedisMirror.Channel = "pyexec:cache:warm"
	}
	if c.Quarantine.Threshold == 0 {
		c.Quarantine.Threshold = 3
	}
	if c.Quarantine.WindowSeconds == 0 {
		c.Quarantine.WindowSeconds = 60
	}
	if c.Quarantine.Image == "" {
		c.Quarantine.Image = "pyexec-quarantine:latest"
	}
	if c.Settings.TimeoutNS == 0 && c.Settings.MaxOutputBytes == 0 && len(c.Settings.AllowedModules) == 0 {
		c.Settings = types.DefaultSettings()
	}
}

// IsProduction reports whether this process is configured as production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// IsDevelopment reports whether this process is configured as development.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// GetAddr returns the listen address cmd/evalserver should bind.
func (c *Config) GetAddr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
