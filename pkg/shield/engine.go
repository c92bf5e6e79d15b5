package shield

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/http-shield/pkg/cache"
	"github.com/Sternrassler/http-shield/pkg/compress"
	"github.com/Sternrassler/http-shield/pkg/rules"
)

// Engine caches responses and coalesces concurrent requests per key.
type Engine struct {
	config  Config
	matcher *rules.Matcher
	store   *cache.Store
	pool    *compress.Pool
	shards  []shard
	logger  *zerolog.Logger
	tracer  trace.Tracer
	stats   counters
}

// shard guards the in-flight records of the keys hashed to it.
// Store reads and writes for those keys happen under the same lock.
type shard struct {
	mu       sync.Mutex
	inflight map[string]*cycle
}

// New creates an engine from config, filling zero fields with defaults.
func New(config Config) (*Engine, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	matcher, err := rules.NewMatcher(cfg.Rules, rules.Defaults{
		MaxAge:      cfg.MaxAge,
		WaitTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e := &Engine{
		config:  cfg,
		matcher: matcher,
		store: cache.NewStore(cache.StoreConfig{
			Max:           cfg.MaxCacheEntries,
			EvictFraction: cfg.EvictFraction,
			Clock:         cfg.Clock,
		}),
		shards: make([]shard, cfg.Shards),
		logger: cfg.Logger,
		tracer: cfg.Tracer,
	}
	for i := range e.shards {
		e.shards[i].inflight = make(map[string]*cycle)
	}
	if cfg.compressing() {
		e.pool = compress.NewPool(cfg.Compression)
	}

	e.logger.Info().
		Int("rules", matcher.Len()).
		Int("max_queue_size", cfg.MaxQueueSize).
		Int("max_cache_entries", cfg.MaxCacheEntries).
		Dur("max_age", cfg.MaxAge).
		Dur("timeout", cfg.Timeout).
		Bool("compression", e.pool != nil).
		Msg("Shield engine initialized")

	return e, nil
}

// Do admits one request.
//
// An ineligible request returns PassThrough and the sink is not used;
// the caller serves it some other way. In every other case the engine
// completes the sink exactly once, possibly after Do returns.
func (e *Engine) Do(req *Request, sink Sink, h Handler) Admission {
	m, ok := e.matcher.Match(req.Method, req.Path, req.RawQuery)
	if !ok {
		e.admit(PassThrough)
		return PassThrough
	}

	guarded := &onceSink{sink: sink}
	sh := e.shardFor(m.Key)

	sh.mu.Lock()
	if entry, ok := e.store.Get(m.Key); ok {
		sh.mu.Unlock()
		e.admit(Hit)
		guarded.entry(entry, MarkerHit)
		return Hit
	}

	if c, ok := sh.inflight[m.Key]; ok {
		if len(c.waiters) >= e.config.MaxQueueSize {
			sh.mu.Unlock()
			e.admit(Rejected)
			e.logger.Warn().
				Str("key", m.Key).
				Int("max_queue_size", e.config.MaxQueueSize).
				Msg("Queue full, rejecting request")
			guarded.fail(ErrBusy, MarkerRefuse)
			return Rejected
		}
		c.waiters = append(c.waiters, guarded)
		sh.mu.Unlock()
		e.admit(Queued)
		return Queued
	}

	c := &cycle{
		engine:  e,
		shard:   sh,
		key:     m.Key,
		match:   m,
		req:     req,
		handler: h,
		leader:  guarded,
	}
	sh.inflight[m.Key] = c
	sh.mu.Unlock()

	e.admit(Through)
	InFlight.Inc()
	c.run()
	return Through
}

// Match exposes the rule decision for a request.
func (e *Engine) Match(method, path, rawQuery string) (rules.Match, bool) {
	return e.matcher.Match(method, path, rawQuery)
}

// Free runs a cache eviction pass.
func (e *Engine) Free() {
	e.store.Free()
}

// Close stops the compression workers. In-flight cycles still complete.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

func (e *Engine) shardFor(key string) *shard {
	return &e.shards[shardIndex(key, len(e.shards))]
}

func shardIndex(key string, total int) int {
	if total <= 1 {
		return 0
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key))
	return int(hasher.Sum32() % uint32(total))
}

// compress returns the gzip variant of body, or nil when compression
// is unavailable or fails within wait.
func (e *Engine) compress(key string, body []byte, wait time.Duration) []byte {
	if e.pool == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	gz, err := e.pool.Compress(ctx, body)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("key", key).
			Int("bytes", len(body)).
			Msg("Compression unavailable, caching raw body only")
		return nil
	}
	return gz
}

func (e *Engine) admit(a Admission) {
	RequestsTotal.WithLabelValues(a.String()).Inc()
	e.stats.admit(a)
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	InFlight     int
	CacheEntries int

	PassThrough uint64
	Hits        uint64
	Queued      uint64
	Through     uint64
	Rejected    uint64

	Successes uint64
	Errors    uint64
	Redirects uint64
	Timeouts  uint64

	// LateSignals counts downstream outcomes discarded after settle
	LateSignals uint64
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	inflight := 0
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		inflight += len(sh.inflight)
		sh.mu.Unlock()
	}

	return Stats{
		InFlight:     inflight,
		CacheEntries: e.store.Len(),
		PassThrough:  e.stats.passThrough.Load(),
		Hits:         e.stats.hits.Load(),
		Queued:       e.stats.queued.Load(),
		Through:      e.stats.through.Load(),
		Rejected:     e.stats.rejected.Load(),
		Successes:    e.stats.successes.Load(),
		Errors:       e.stats.errors.Load(),
		Redirects:    e.stats.redirects.Load(),
		Timeouts:     e.stats.timeouts.Load(),
		LateSignals:  e.stats.late.Load(),
	}
}

type counters struct {
	passThrough atomic.Uint64
	hits        atomic.Uint64
	queued      atomic.Uint64
	through     atomic.Uint64
	rejected    atomic.Uint64

	successes atomic.Uint64
	errors    atomic.Uint64
	redirects atomic.Uint64
	timeouts  atomic.Uint64

	late atomic.Uint64
}

func (c *counters) admit(a Admission) {
	switch a {
	case PassThrough:
		c.passThrough.Add(1)
	case Hit:
		c.hits.Add(1)
	case Queued:
		c.queued.Add(1)
	case Through:
		c.through.Add(1)
	case Rejected:
		c.rejected.Add(1)
	}
}

func (c *counters) record(k outcomeKind) {
	switch k {
	case outcomeSuccess:
		c.successes.Add(1)
	case outcomeError:
		c.errors.Add(1)
	case outcomeRedirect:
		c.redirects.Add(1)
	case outcomeTimeout:
		c.timeouts.Add(1)
	}
}
