// Package config loads the shield proxy configuration from a YAML file and
// environment overrides.
//
// Example file:
//
//	listen: ":8080"
//	upstream:
//	  base_url: "http://localhost:3000"
//	  timeout: 10s
//	engine:
//	  max_age: 3s
//	  timeout: 500ms
//	  max_queue_size: 5000
//	rules:
//	  - pattern: "^/chatting"
//	    max_age: 1s
//	    key_queries: ["tab"]
//	    compress: true
//
// Durations are Go duration strings. Environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/http-shield/pkg/compress"
	"github.com/Sternrassler/http-shield/pkg/logging"
	"github.com/Sternrassler/http-shield/pkg/rules"
	"github.com/Sternrassler/http-shield/pkg/shield"
	"github.com/Sternrassler/http-shield/pkg/upstream"
)

// Environment variables read by Load.
const (
	EnvConfig    = "SHIELD_CONFIG"
	EnvListen    = "SHIELD_LISTEN"
	EnvUpstream  = "SHIELD_UPSTREAM"
	EnvLogLevel  = "SHIELD_LOG_LEVEL"
	EnvLogPretty = "SHIELD_LOG_PRETTY"
	EnvTrace     = "SHIELD_TRACE"
)

// ErrInvalid is returned for configuration that cannot run.
var ErrInvalid = errors.New("invalid config")

// Config is the proxy configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Log      LogConfig      `yaml:"log"`
	// Trace selects a span exporter: "" (none) or "stdout".
	Trace  string       `yaml:"trace"`
	Engine EngineConfig `yaml:"engine"`
	Rules  []RuleConfig `yaml:"rules"`
}

// UpstreamConfig configures the origin client.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	ForwardHeaders []string      `yaml:"forward_headers"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig holds the engine-wide defaults.
type EngineConfig struct {
	MaxAge          time.Duration     `yaml:"max_age"`
	Timeout         time.Duration     `yaml:"timeout"`
	MaxQueueSize    int               `yaml:"max_queue_size"`
	MaxCacheEntries int               `yaml:"max_cache_entries"`
	EvictFraction   float64           `yaml:"evict_fraction"`
	Compression     CompressionConfig `yaml:"compression"`
}

// CompressionConfig sizes the gzip worker pool.
type CompressionConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	Level     int `yaml:"level"`
}

// RuleConfig is one shielded path rule.
type RuleConfig struct {
	Pattern    string        `yaml:"pattern"`
	MaxAge     time.Duration `yaml:"max_age"`
	Timeout    time.Duration `yaml:"timeout"`
	KeyQueries []string      `yaml:"key_queries"`
	Compress   bool          `yaml:"compress"`
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path is the YAML file; empty means the SHIELD_CONFIG variable, then none.
	Path string
	// Environ overrides os.Environ (for tests).
	Environ []string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	engine := shield.DefaultConfig()
	up := upstream.DefaultConfig("http://localhost:3000")
	return Config{
		Listen: ":8080",
		Upstream: UpstreamConfig{
			BaseURL:        up.BaseURL,
			UserAgent:      up.UserAgent,
			Timeout:        up.Timeout,
			ForwardHeaders: up.ForwardHeaders,
			MaxBodyBytes:   up.MaxBodyBytes,
		},
		Log: LogConfig{Level: string(logging.LevelInfo)},
		Engine: EngineConfig{
			MaxAge:          engine.MaxAge,
			Timeout:         engine.Timeout,
			MaxQueueSize:    engine.MaxQueueSize,
			MaxCacheEntries: engine.MaxCacheEntries,
			EvictFraction:   engine.EvictFraction,
			Compression: CompressionConfig{
				Workers:   engine.Compression.Workers,
				QueueSize: engine.Compression.QueueSize,
				Level:     engine.Compression.Level,
			},
		},
	}
}

// Load builds the configuration from defaults, the YAML file and the environment.
func Load(opts LoadOptions) (Config, error) {
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	env := envMap(environ)

	cfg := Default()

	path := opts.Path
	if path == "" {
		path = env[EnvConfig]
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env map[string]string) error {
	c.Listen = getEnv(env, EnvListen, c.Listen)
	c.Upstream.BaseURL = getEnv(env, EnvUpstream, c.Upstream.BaseURL)
	c.Log.Level = getEnv(env, EnvLogLevel, c.Log.Level)
	c.Trace = getEnv(env, EnvTrace, c.Trace)

	if v, ok := env[EnvLogPretty]; ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, EnvLogPretty, err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

// Validate reports configuration that cannot run.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalid)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("%w: upstream base_url is required", ErrInvalid)
	}
	switch c.Trace {
	case "", "stdout":
	default:
		return fmt.Errorf("%w: unknown trace exporter %q", ErrInvalid, c.Trace)
	}
	for i, r := range c.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("%w: rule %d: pattern is required", ErrInvalid, i)
		}
	}
	return nil
}

// ShieldConfig converts the configuration into an engine configuration.
// Logger, Tracer and Renderer are left for the caller.
func (c Config) ShieldConfig() (shield.Config, error) {
	out := shield.DefaultConfig()
	out.MaxAge = c.Engine.MaxAge
	out.Timeout = c.Engine.Timeout
	out.MaxQueueSize = c.Engine.MaxQueueSize
	out.MaxCacheEntries = c.Engine.MaxCacheEntries
	out.EvictFraction = c.Engine.EvictFraction
	out.Compression = compress.PoolConfig{
		Workers:   c.Engine.Compression.Workers,
		QueueSize: c.Engine.Compression.QueueSize,
		Level:     c.Engine.Compression.Level,
	}

	out.Rules = make([]rules.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		rule, err := rules.Pattern(rc.Pattern)
		if err != nil {
			return shield.Config{}, fmt.Errorf("%w: rule %d: %w", ErrInvalid, i, err)
		}
		rule.MaxAge = rc.MaxAge
		rule.WaitTimeout = rc.Timeout
		rule.KeyQueries = rc.KeyQueries
		rule.Compress = rc.Compress
		out.Rules = append(out.Rules, rule)
	}
	return out, nil
}

// UpstreamClient converts the upstream section into a client configuration.
func (c Config) UpstreamClient() upstream.Config {
	return upstream.Config{
		BaseURL:        c.Upstream.BaseURL,
		UserAgent:      c.Upstream.UserAgent,
		Timeout:        c.Upstream.Timeout,
		ForwardHeaders: c.Upstream.ForwardHeaders,
		MaxBodyBytes:   c.Upstream.MaxBodyBytes,
	}
}

// Logging converts the log section into a logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func envMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func getEnv(env map[string]string, key, defaultValue string) string {
	if value := env[key]; value != "" {
		return value
	}
	return defaultValue
}
