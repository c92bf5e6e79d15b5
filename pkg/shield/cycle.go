package shield

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/http-shield/pkg/cache"
	"github.com/Sternrassler/http-shield/pkg/compress"
	"github.com/Sternrassler/http-shield/pkg/rules"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeError
	outcomeRedirect
	outcomeTimeout
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeError:
		return "error"
	case outcomeRedirect:
		return "redirect"
	case outcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// outcome is the fixed result of one leader cycle.
type outcome struct {
	kind     outcomeKind
	response Response
	err      error
	status   int
	location string
}

// cacheable reports whether the outcome may populate the store.
func (o outcome) cacheable() bool {
	if o.kind != outcomeSuccess || len(o.response.Body) == 0 {
		return false
	}
	status := o.response.StatusCode()
	return status >= 200 && status < 300
}

// onceSink guards a Sink so it receives at most one delivery.
type onceSink struct {
	sink Sink
	once sync.Once
}

func (s *onceSink) success(resp Response, m Marker) {
	s.once.Do(func() { s.sink.DeliverSuccess(resp, m) })
}

func (s *onceSink) fail(err error, m Marker) {
	s.once.Do(func() { s.sink.DeliverError(err, m) })
}

func (s *onceSink) redirect(status int, location string, m Marker) {
	s.once.Do(func() { s.sink.DeliverRedirect(status, location, m) })
}

// entry delivers a cached or freshly published entry, picking the
// variant by the sink's own Accept-Encoding.
func (s *onceSink) entry(e cache.Entry, m Marker) {
	resp := Response{
		Status:       e.StatusCode(),
		Body:         e.Body,
		ContentType:  e.ContentType,
		CacheControl: e.CacheControl,
	}
	if len(e.Compressed) > 0 {
		resp.VaryEncoding = true
		if s.sink.AcceptsEncoding(compress.Encoding) {
			resp.Body = e.Compressed
			resp.Encoding = compress.Encoding
		}
	}
	s.success(resp, m)
}

// cycle is the in-flight record of one leader execution for a key.
type cycle struct {
	engine  *Engine
	shard   *shard
	key     string
	match   rules.Match
	req     *Request
	handler Handler
	leader  *onceSink

	// waiters is guarded by shard.mu
	waiters []*onceSink

	settled atomic.Bool
	capture *capture
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	started time.Time
}

// run starts the downstream handler and arms the wait timer.
// The cycle must already be registered in its shard.
func (c *cycle) run() {
	e := c.engine

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.req.Context()))
	ctx, span := e.tracer.Start(ctx, "shield.leader",
		trace.WithAttributes(
			attribute.String("shield.key", c.key),
			attribute.String("shield.rule", c.match.Rule.String()),
		),
	)
	c.ctx, c.cancel, c.span = ctx, cancel, span
	c.capture = newCapture(c)
	c.started = time.Now()

	e.logger.Debug().
		Str("key", c.key).
		Dur("timeout", c.match.WaitTimeout).
		Msg("Leader cycle started")

	c.timer = time.AfterFunc(c.match.WaitTimeout, c.expire)
	go c.serve()
}

func (c *cycle) serve() {
	defer func() {
		if r := recover(); r != nil {
			c.engine.logger.Error().
				Str("key", c.key).
				Interface("panic", r).
				Msg("Downstream handler panicked")
			c.capture.Fail(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()
	c.handler.Serve(c.ctx, c.req, c.capture)
}

func (c *cycle) expire() {
	c.settle(outcome{
		kind: outcomeTimeout,
		err:  fmt.Errorf("%w after %s", ErrTimeout, c.match.WaitTimeout),
	}, true)
}

// settle fixes the outcome if the cycle is still open.
// It returns false when another signal already settled the cycle.
func (c *cycle) settle(o outcome, fromTimer bool) bool {
	if !c.settled.CompareAndSwap(false, true) {
		return false
	}
	if !fromTimer {
		c.timer.Stop()
	}
	c.capture.detach()
	c.finish(o)
	return true
}

// finish publishes the outcome and fans it out to the leader and waiters.
func (c *cycle) finish(o outcome) {
	e := c.engine
	elapsed := time.Since(c.started)

	var entry cache.Entry
	if o.kind == outcomeSuccess {
		entry = cache.Entry{
			Body:         o.response.Body,
			ContentType:  o.response.ContentType,
			CacheControl: o.response.CacheControl,
			Status:       o.response.StatusCode(),
		}
		if c.match.Compress && len(entry.Body) > 0 {
			entry.Compressed = e.compress(c.key, entry.Body, c.match.WaitTimeout)
		}
	}
	cached := o.cacheable()

	c.shard.mu.Lock()
	if cached {
		e.store.Set(c.key, entry, c.match.MaxAge)
	}
	waiters := c.waiters
	c.waiters = nil
	if c.shard.inflight[c.key] == c {
		delete(c.shard.inflight, c.key)
	}
	c.shard.mu.Unlock()

	InFlight.Dec()
	OutcomesTotal.WithLabelValues(o.kind.String()).Inc()
	LeaderDuration.Observe(elapsed.Seconds())
	QueueDepth.Observe(float64(len(waiters)))
	e.stats.record(o.kind)

	c.endSpan(o, len(waiters), cached)
	c.cancel()

	event := e.logger.Debug()
	if o.kind == outcomeTimeout {
		event = e.logger.Warn()
	}
	event.
		Str("key", c.key).
		Str("outcome", o.kind.String()).
		Int("waiters", len(waiters)).
		Bool("cached", cached).
		Dur("duration", elapsed).
		Msg("Leader cycle settled")

	c.deliver(c.leader, o, entry, MarkerThrough)
	for _, w := range waiters {
		c.deliver(w, o, entry, MarkerQueue)
	}
}

// deliver completes one sink. A panicking sink is logged and skipped so
// the rest of the fan-out still completes.
func (c *cycle) deliver(s *onceSink, o outcome, entry cache.Entry, m Marker) {
	defer func() {
		if r := recover(); r != nil {
			c.engine.logger.Error().
				Str("key", c.key).
				Str("marker", string(m)).
				Interface("panic", r).
				Msg("Sink delivery panicked")
		}
	}()

	switch o.kind {
	case outcomeSuccess:
		s.entry(entry, m)
	case outcomeRedirect:
		s.redirect(o.status, o.location, m)
	default:
		s.fail(o.err, m)
	}
}

func (c *cycle) endSpan(o outcome, waiters int, cached bool) {
	c.span.SetAttributes(
		attribute.String("shield.outcome", o.kind.String()),
		attribute.Int("shield.waiters", waiters),
		attribute.Bool("shield.cached", cached),
	)
	switch o.kind {
	case outcomeError, outcomeTimeout:
		c.span.RecordError(o.err)
		c.span.SetStatus(codes.Error, o.err.Error())
	default:
		if o.kind == outcomeSuccess {
			c.span.SetAttributes(attribute.Int("http.status_code", o.response.StatusCode()))
		} else {
			c.span.SetAttributes(attribute.Int("http.status_code", o.status))
		}
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.End()
}
