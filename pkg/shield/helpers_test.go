package shield

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/http-shield/pkg/rules"
)

type delivery struct {
	kind     string
	resp     Response
	err      error
	status   int
	location string
	marker   Marker
}

// testSink records deliveries. gzip controls AcceptsEncoding.
type testSink struct {
	gzip bool

	mu         sync.Mutex
	deliveries []delivery
	once       sync.Once
	done       chan struct{}
}

func newTestSink(gzip bool) *testSink {
	return &testSink{gzip: gzip, done: make(chan struct{})}
}

func (s *testSink) record(d delivery) {
	s.mu.Lock()
	s.deliveries = append(s.deliveries, d)
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *testSink) DeliverSuccess(resp Response, m Marker) {
	s.record(delivery{kind: "success", resp: resp, marker: m})
}

func (s *testSink) DeliverError(err error, m Marker) {
	s.record(delivery{kind: "error", err: err, marker: m})
}

func (s *testSink) DeliverRedirect(status int, location string, m Marker) {
	s.record(delivery{kind: "redirect", status: status, location: location, marker: m})
}

func (s *testSink) AcceptsEncoding(token string) bool {
	return s.gzip && token == "gzip"
}

func (s *testSink) wait(t *testing.T) delivery {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries[0]
}

// waitFor is safe to call from goroutines other than the test's.
func (s *testSink) waitFor(d time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func getRequest(target string) *Request {
	path, query, _ := strings.Cut(target, "?")
	return &Request{Method: "GET", Path: path, RawQuery: query}
}

func chatRule(maxAge, timeout time.Duration) rules.Rule {
	r := rules.MustPattern(`^/chatting`)
	r.MaxAge = maxAge
	r.WaitTimeout = timeout
	return r
}
