package shield

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/Sternrassler/http-shield/pkg/compress"
)

// Middleware shields next. Eligible requests are coalesced and cached;
// everything else goes to next unchanged.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	downstream := FromHTTPHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sink := NewHTTPSink(w, r)
		if e.Do(NewRequest(r), sink, downstream) == PassThrough {
			next.ServeHTTP(w, r)
			return
		}
		sink.Wait()
	})
}

// Handler serves h through the engine. Ineligible requests are served
// by h directly, without coalescing or caching.
func (e *Engine) Handler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := NewRequest(r)
		sink := NewHTTPSink(w, r)
		if e.Do(req, sink, h) == PassThrough {
			h.Serve(r.Context(), req, &directCapture{w: w, r: r, renderer: e.config.Renderer})
			return
		}
		sink.Wait()
	})
}

// HTTPSink writes a delivery to an http.ResponseWriter.
// Deliveries after the request context is done are dropped.
type HTTPSink struct {
	w http.ResponseWriter
	r *http.Request

	mu       sync.Mutex
	finished bool
	done     chan struct{}
}

// NewHTTPSink returns a sink bound to one request.
func NewHTTPSink(w http.ResponseWriter, r *http.Request) *HTTPSink {
	return &HTTPSink{w: w, r: r, done: make(chan struct{})}
}

// Wait blocks until a delivery was written or the request context is done.
func (s *HTTPSink) Wait() {
	select {
	case <-s.done:
	case <-s.r.Context().Done():
		s.mu.Lock()
		s.finish()
		s.mu.Unlock()
	}
}

// Done is closed once the sink has been delivered to or abandoned.
func (s *HTTPSink) Done() <-chan struct{} {
	return s.done
}

// DeliverSuccess implements Sink.
func (s *HTTPSink) DeliverSuccess(resp Response, marker Marker) {
	s.deliver(func() { writeResponse(s.w, resp, marker) })
}

// DeliverError implements Sink.
func (s *HTTPSink) DeliverError(err error, marker Marker) {
	s.deliver(func() { writeError(s.w, err, marker) })
}

// DeliverRedirect implements Sink.
func (s *HTTPSink) DeliverRedirect(status int, location string, marker Marker) {
	s.deliver(func() { writeRedirect(s.w, s.r, status, location, marker) })
}

// AcceptsEncoding implements Sink.
func (s *HTTPSink) AcceptsEncoding(token string) bool {
	return compress.Accepts(s.r.Header.Get("Accept-Encoding"), token)
}

func (s *HTTPSink) deliver(write func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	defer s.finish()
	write()
}

func (s *HTTPSink) finish() {
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}

func writeResponse(w http.ResponseWriter, resp Response, marker Marker) {
	h := w.Header()
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	if resp.CacheControl != "" {
		h.Set("Cache-Control", resp.CacheControl)
	}
	if resp.Encoding != "" {
		h.Set("Content-Encoding", resp.Encoding)
	}
	if resp.VaryEncoding {
		h.Add("Vary", "Accept-Encoding")
	}
	if marker != "" {
		h.Set(MarkerHeader, string(marker))
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.StatusCode())
	_, _ = w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, err error, marker Marker) {
	status, msg := ErrorStatus(err)
	if marker != "" {
		w.Header().Set(MarkerHeader, string(marker))
	}
	http.Error(w, msg, status)
}

func writeRedirect(w http.ResponseWriter, r *http.Request, status int, location string, marker Marker) {
	if marker != "" {
		w.Header().Set(MarkerHeader, string(marker))
	}
	http.Redirect(w, r, location, status)
}

// FromHTTPHandler adapts a plain http.Handler to Handler. The response
// is recorded and emitted as one outcome: a 3xx with a Location header
// becomes a redirect, anything else is sent with its status.
func FromHTTPHandler(next http.Handler) Handler {
	return HandlerFunc(func(ctx context.Context, req *Request, c Capture) {
		r, err := req.httpRequest(ctx)
		if err != nil {
			c.Fail(err)
			return
		}

		rec := newRecorder()
		next.ServeHTTP(rec, r)

		if ct := rec.header.Get("Content-Type"); ct != "" {
			c.SetHeader("Content-Type", ct)
		}
		if cc := rec.header.Get("Cache-Control"); cc != "" {
			c.SetHeader("Cache-Control", cc)
		}

		status := rec.statusCode()
		if loc := rec.header.Get("Location"); loc != "" && status >= 300 && status < 400 {
			c.Redirect(status, loc)
			return
		}
		c.SendStatus(status, rec.body.Bytes())
	})
}

// httpRequest returns the originating request bound to ctx, or builds one.
func (r *Request) httpRequest(ctx context.Context) (*http.Request, error) {
	if r.HTTP != nil {
		return r.HTTP.WithContext(ctx), nil
	}
	hr, err := http.NewRequestWithContext(ctx, r.Method, r.Target(), nil)
	if err != nil {
		return nil, err
	}
	if r.Header != nil {
		hr.Header = r.Header.Clone()
	}
	return hr, nil
}

// recorder buffers a downstream http.Handler response.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// directCapture writes outcomes straight to a ResponseWriter.
// Used for requests the engine does not handle.
type directCapture struct {
	w        http.ResponseWriter
	r        *http.Request
	renderer Renderer

	mu   sync.Mutex
	done bool
}

func (d *directCapture) SetHeader(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.done {
		d.w.Header().Set(key, value)
	}
}

func (d *directCapture) Render(name string, data any) {
	if d.renderer == nil {
		d.Fail(ErrNoRenderer)
		return
	}
	var buf bytes.Buffer
	if err := d.renderer.Render(&buf, name, data); err != nil {
		d.Fail(err)
		return
	}
	d.emit(func() {
		if d.w.Header().Get("Content-Type") == "" {
			d.w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		d.w.WriteHeader(http.StatusOK)
		_, _ = d.w.Write(buf.Bytes())
	})
}

func (d *directCapture) Send(body []byte) {
	d.SendStatus(http.StatusOK, body)
}

func (d *directCapture) SendStatus(status int, body []byte) {
	if status == 0 {
		status = http.StatusOK
	}
	if !validStatus(status) {
		d.Fail(invalidStatus(status))
		return
	}
	d.emit(func() {
		d.w.WriteHeader(status)
		_, _ = d.w.Write(body)
	})
}

func (d *directCapture) JSON(v any) {
	buf, err := jsonBody(v)
	if err != nil {
		d.Fail(err)
		return
	}
	d.emit(func() {
		if d.w.Header().Get("Content-Type") == "" {
			d.w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		d.w.WriteHeader(http.StatusOK)
		_, _ = d.w.Write(buf)
	})
}

func (d *directCapture) Redirect(status int, location string) {
	if status < 300 || status > 399 {
		status = http.StatusFound
	}
	d.emit(func() { http.Redirect(d.w, d.r, location, status) })
}

func (d *directCapture) Fail(err error) {
	d.emit(func() { writeError(d.w, err, "") })
}

func (d *directCapture) emit(write func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.done = true
	write()
}
