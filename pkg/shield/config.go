package shield

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/http-shield/pkg/cache"
	"github.com/Sternrassler/http-shield/pkg/compress"
	"github.com/Sternrassler/http-shield/pkg/logging"
	"github.com/Sternrassler/http-shield/pkg/rules"
)

// TracerName is the instrumentation name of the default tracer.
const TracerName = "github.com/Sternrassler/http-shield/pkg/shield"

// Config holds engine configuration.
type Config struct {
	// Rules select eligible requests; first match wins.
	Rules []rules.Rule

	// MaxAge is the TTL for rules without their own (default: 3s).
	MaxAge time.Duration

	// MaxQueueSize is the waiter bound per key (default: 5000).
	MaxQueueSize int

	// Timeout is the wait timeout for rules without their own (default: 500ms).
	Timeout time.Duration

	// MaxCacheEntries bounds the cache store (default: 5000).
	MaxCacheEntries int

	// EvictFraction is the share of the store freed on overflow, in (0, 1] (default: 0.4).
	EvictFraction float64

	// Logger is the engine logger (default: component logger "shield").
	Logger *zerolog.Logger

	// LogSink optionally receives every engine log line as level and message.
	LogSink func(level, msg string)

	// Tracer creates one span per leader cycle (default: global provider).
	Tracer trace.Tracer

	// Renderer backs Capture.Render.
	Renderer Renderer

	// Compression configures the gzip worker pool used by compressing rules.
	Compression compress.PoolConfig

	// Shards is the size of the per-key lock table (default: 64).
	Shards int

	// Clock returns the current time for cache expiry (default: time.Now).
	Clock func() time.Time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge:          3 * time.Second,
		MaxQueueSize:    5000,
		Timeout:         500 * time.Millisecond,
		MaxCacheEntries: cache.DefaultMaxEntries,
		EvictFraction:   cache.DefaultEvictFraction,
		Compression:     compress.DefaultPoolConfig(),
		Shards:          64,
		Clock:           time.Now,
	}
}

// withDefaults fills zero fields and validates the result.
func (c Config) withDefaults() (Config, error) {
	d := DefaultConfig()

	if c.MaxAge == 0 {
		c.MaxAge = d.MaxAge
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxCacheEntries == 0 {
		c.MaxCacheEntries = d.MaxCacheEntries
	}
	if c.EvictFraction == 0 {
		c.EvictFraction = d.EvictFraction
	}
	if c.Shards == 0 {
		c.Shards = d.Shards
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(TracerName)
	}

	logger := logging.NewLogger("shield")
	if c.Logger != nil {
		logger = *c.Logger
	}
	if c.LogSink != nil {
		logger = logging.WithSink(logger, c.LogSink)
	}
	c.Logger = &logger

	switch {
	case c.MaxAge < 0:
		return c, fmt.Errorf("%w: negative max age %s", ErrInvalidConfig, c.MaxAge)
	case c.Timeout < 0:
		return c, fmt.Errorf("%w: negative timeout %s", ErrInvalidConfig, c.Timeout)
	case c.MaxQueueSize < 0:
		return c, fmt.Errorf("%w: negative max queue size %d", ErrInvalidConfig, c.MaxQueueSize)
	case c.MaxCacheEntries < 0:
		return c, fmt.Errorf("%w: negative max cache entries %d", ErrInvalidConfig, c.MaxCacheEntries)
	case c.EvictFraction <= 0 || c.EvictFraction > 1:
		return c, fmt.Errorf("%w: evict fraction %v outside (0, 1]", ErrInvalidConfig, c.EvictFraction)
	case c.Shards < 0:
		return c, fmt.Errorf("%w: negative shard count %d", ErrInvalidConfig, c.Shards)
	}

	return c, nil
}

func (c Config) compressing() bool {
	for _, r := range c.Rules {
		if r.Compress {
			return true
		}
	}
	return false
}
