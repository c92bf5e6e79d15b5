package shield

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// Capture is the outcome surface handed to a downstream Handler.
//
// The first terminal call (Render, Send, SendStatus, JSON, Redirect or
// Fail) settles the request. Later calls, and calls after the wait
// timeout fired, are discarded.
type Capture interface {
	// SetHeader sets a response header. Content-Type and Cache-Control
	// are carried to every recipient and into the cache.
	SetHeader(key, value string)

	// Render executes a named template through the configured Renderer.
	Render(name string, data any)

	// Send emits body with status 200.
	Send(body []byte)

	// SendStatus emits body with an explicit status.
	SendStatus(status int, body []byte)

	// JSON emits v encoded as JSON.
	JSON(v any)

	// Redirect emits a redirect; redirects are never cached.
	Redirect(status int, location string)

	// Fail reports a downstream error; errors are never cached.
	Fail(err error)
}

// capture binds one Capture to one leader cycle. The binding is dropped
// on settle, so a late call cannot reach the cycle.
type capture struct {
	cycle  atomic.Pointer[cycle]
	key    string
	engine *Engine

	mu     sync.Mutex
	header http.Header
}

func newCapture(c *cycle) *capture {
	cp := &capture{
		key:    c.key,
		engine: c.engine,
		header: make(http.Header),
	}
	cp.cycle.Store(c)
	return cp
}

func (c *capture) SetHeader(key, value string) {
	c.mu.Lock()
	c.header.Set(key, value)
	c.mu.Unlock()
}

func (c *capture) Render(name string, data any) {
	if c.cycle.Load() == nil {
		c.late("render")
		return
	}
	renderer := c.engine.config.Renderer
	if renderer == nil {
		c.Fail(fmt.Errorf("render %q: %w", name, ErrNoRenderer))
		return
	}

	var buf bytes.Buffer
	if err := renderer.Render(&buf, name, data); err != nil {
		c.Fail(fmt.Errorf("render %q: %w", name, err))
		return
	}

	c.defaultContentType("text/html; charset=utf-8")
	c.SendStatus(http.StatusOK, buf.Bytes())
}

func (c *capture) Send(body []byte) {
	c.SendStatus(http.StatusOK, body)
}

func (c *capture) SendStatus(status int, body []byte) {
	if status == 0 {
		status = http.StatusOK
	}
	if !validStatus(status) {
		c.Fail(invalidStatus(status))
		return
	}
	contentType, cacheControl := c.carried()
	c.settle("send", outcome{
		kind: outcomeSuccess,
		response: Response{
			Status:       status,
			Body:         append([]byte(nil), body...),
			ContentType:  contentType,
			CacheControl: cacheControl,
		},
	})
}

func (c *capture) JSON(v any) {
	if c.cycle.Load() == nil {
		c.late("json")
		return
	}

	body, err := jsonBody(v)
	if err != nil {
		c.Fail(err)
		return
	}

	c.defaultContentType("application/json; charset=utf-8")
	c.SendStatus(http.StatusOK, body)
}

func (c *capture) Redirect(status int, location string) {
	if status < 300 || status > 399 {
		status = http.StatusFound
	}
	c.settle("redirect", outcome{kind: outcomeRedirect, status: status, location: location})
}

func (c *capture) Fail(err error) {
	if err == nil {
		err = &StatusError{Status: http.StatusInternalServerError}
	}
	c.settle("fail", outcome{kind: outcomeError, err: err})
}

func (c *capture) settle(op string, o outcome) {
	cy := c.cycle.Swap(nil)
	if cy == nil || !cy.settle(o, false) {
		c.late(op)
	}
}

// detach drops the cycle binding; called when the timer wins.
func (c *capture) detach() {
	c.cycle.Store(nil)
}

func (c *capture) late(op string) {
	LateCompletions.Inc()
	c.engine.stats.late.Add(1)
	c.engine.logger.Debug().
		Str("key", c.key).
		Str("op", op).
		Msg("Discarded downstream outcome after settle")
}

func (c *capture) carried() (contentType, cacheControl string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header.Get("Content-Type"), c.header.Get("Cache-Control")
}

func (c *capture) defaultContentType(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header.Get("Content-Type") == "" {
		c.header.Set("Content-Type", value)
	}
}

func jsonBody(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return body, nil
}

func validStatus(status int) bool {
	return status >= 100 && status <= 999
}

func invalidStatus(status int) error {
	return &StatusError{
		Status:  http.StatusInternalServerError,
		Message: http.StatusText(http.StatusInternalServerError),
		Err:     fmt.Errorf("invalid status code %d", status),
	}
}
