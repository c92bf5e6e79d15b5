package shield

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/http-shield/pkg/compress"
	"github.com/Sternrassler/http-shield/pkg/rules"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantText   string
	}{
		{name: "busy", err: ErrBusy, wantStatus: 503, wantText: "Server is busy."},
		{name: "timeout", err: fmt.Errorf("%w after 1s", ErrTimeout), wantStatus: 504, wantText: "Gateway Timeout"},
		{name: "status error", err: &StatusError{Status: 502, Message: "origin down"}, wantStatus: 502, wantText: "origin down"},
		{name: "wrapped status error", err: fmt.Errorf("fetch: %w", &StatusError{Status: 404}), wantStatus: 404, wantText: "Not Found"},
		{name: "plain error", err: errors.New("boom"), wantStatus: 500, wantText: "Internal Server Error"},
		{name: "zero status", err: &StatusError{Message: "boom"}, wantStatus: 500, wantText: "boom"},
		{name: "zero status no message", err: &StatusError{}, wantStatus: 500, wantText: "Internal Server Error"},
		{name: "status out of range", err: &StatusError{Status: 1000}, wantStatus: 500, wantText: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, text := ErrorStatus(tt.err)
			if status != tt.wantStatus || text != tt.wantText {
				t.Errorf("ErrorStatus() = %d %q, want %d %q", status, text, tt.wantStatus, tt.wantText)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &StatusError{Status: 502, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("StatusError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestMiddleware_Coalesces(t *testing.T) {
	e := newTestEngine(t, Config{
		Rules:        []rules.Rule{chatRule(time.Second, time.Second)},
		MaxQueueSize: 10,
	})

	var calls atomic.Int32
	release := make(chan struct{})
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-App", "dropped")
		fmt.Fprint(w, "chat page")
	})
	h := e.Middleware(app)

	recorders := make([]*httptest.ResponseRecorder, 20)
	var wg sync.WaitGroup
	for i := range recorders {
		recorders[i] = httptest.NewRecorder()
		wg.Add(1)
		go func(rec *httptest.ResponseRecorder) {
			defer wg.Done()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatting", nil))
		}(recorders[i])
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		s := e.Stats()
		if s.Through+s.Queued+s.Rejected == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("not all requests admitted: %+v", s)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	markers := map[string]int{}
	for _, rec := range recorders {
		marker := rec.Header().Get(MarkerHeader)
		markers[marker]++
		switch marker {
		case "refuse":
			if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "Server is busy.") {
				t.Errorf("refused response = %d %q", rec.Code, rec.Body.String())
			}
		case "through", "queue":
			if rec.Code != http.StatusOK || rec.Body.String() != "chat page" {
				t.Errorf("%s response = %d %q", marker, rec.Code, rec.Body.String())
			}
			if rec.Header().Get("Content-Type") != "text/plain" {
				t.Errorf("%s Content-Type = %q", marker, rec.Header().Get("Content-Type"))
			}
			if rec.Header().Get("X-App") != "" {
				t.Errorf("%s: only Content-Type and Cache-Control are carried", marker)
			}
		default:
			t.Errorf("unexpected marker %q", marker)
		}
	}
	if markers["through"] != 1 || markers["queue"] != 10 || markers["refuse"] != 9 {
		t.Errorf("markers = %v", markers)
	}
	if calls.Load() != 1 {
		t.Errorf("app ran %d times, want 1", calls.Load())
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatting", nil))
	if rec.Header().Get(MarkerHeader) != "hit" || rec.Body.String() != "chat page" {
		t.Errorf("follow-up = %q %q", rec.Header().Get(MarkerHeader), rec.Body.String())
	}
}

func TestMiddleware_PassThrough(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, time.Second)}})

	h := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, r.Method)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chatting", nil))

	if rec.Code != http.StatusCreated || rec.Body.String() != "POST" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(MarkerHeader) != "" {
		t.Error("pass-through responses carry no marker")
	}
}

func TestMiddleware_Redirect(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, time.Second)}})

	var calls atomic.Int32
	h := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatting", nil))
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
			t.Errorf("response = %d %q", rec.Code, rec.Header().Get("Location"))
		}
		if rec.Header().Get(MarkerHeader) != "through" {
			t.Errorf("marker = %q, redirects are never served from cache", rec.Header().Get(MarkerHeader))
		}
	}
	if calls.Load() != 2 {
		t.Errorf("app ran %d times, want 2", calls.Load())
	}
}

func TestMiddleware_Timeout(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, 20*time.Millisecond)}})

	release := make(chan struct{})
	defer close(release)
	h := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatting", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
}

func TestMiddleware_Gzip(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{compressRule()}})

	body := strings.Repeat("gzip me ", 200)
	h := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))

	req := httptest.NewRequest(http.MethodGet, "/chatting", nil)
	req.Header.Set("Accept-Encoding", "br, gzip;q=0.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}
	if rec.Header().Get("Vary") != "Accept-Encoding" {
		t.Errorf("Vary = %q", rec.Header().Get("Vary"))
	}
	plain, err := compress.Gunzip(rec.Body.Bytes())
	if err != nil || string(plain) != body {
		t.Errorf("decoded body mismatch (err %v)", err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatting", nil))
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.String() != body {
		t.Error("client without gzip should get the raw body")
	}
	if rec.Header().Get(MarkerHeader) != "hit" {
		t.Errorf("marker = %q, want hit", rec.Header().Get(MarkerHeader))
	}
}

func TestHTTPSink_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/chatting", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec, req)

	cancel()
	sink.Wait()

	sink.DeliverSuccess(Response{Body: []byte("late")}, MarkerQueue)
	sink.DeliverError(ErrBusy, MarkerRefuse)

	if rec.Body.Len() != 0 || rec.Header().Get(MarkerHeader) != "" {
		t.Errorf("delivery after cancellation must be a no-op, got %q", rec.Body.String())
	}
	select {
	case <-sink.Done():
	default:
		t.Error("Done should be closed after cancellation")
	}
}

// brokenWriter panics on WriteHeader.
type brokenWriter struct{ header http.Header }

func (w *brokenWriter) Header() http.Header         { return w.header }
func (w *brokenWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *brokenWriter) WriteHeader(int)             { panic("connection gone") }

func TestHTTPSink_WritePanicStillFinishes(t *testing.T) {
	sink := NewHTTPSink(&brokenWriter{header: make(http.Header)}, httptest.NewRequest(http.MethodGet, "/", nil))

	func() {
		defer func() { _ = recover() }()
		sink.DeliverError(errors.New("boom"), MarkerThrough)
	}()

	select {
	case <-sink.Done():
	case <-time.After(time.Second):
		t.Fatal("sink should be finished after a failed write")
	}
}

func TestHTTPSink_DeliverOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	sink := NewHTTPSink(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	sink.DeliverSuccess(Response{Status: 201, Body: []byte("first"), CacheControl: "no-store"}, MarkerThrough)
	sink.DeliverSuccess(Response{Body: []byte("second")}, MarkerQueue)
	sink.Wait()

	if rec.Code != 201 || rec.Body.String() != "first" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get(MarkerHeader) != "through" {
		t.Errorf("headers = %v", rec.Header())
	}
	if rec.Header().Get("Content-Length") != "5" {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
}

func TestEngineHandler(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, time.Second)}})

	var calls atomic.Int32
	h := e.Handler(HandlerFunc(func(ctx context.Context, req *Request, c Capture) {
		calls.Add(1)
		c.SetHeader("Cache-Control", "max-age=60")
		c.JSON(map[string]string{"path": req.Path})
	}))

	for i, want := range []string{"through", "hit"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chatting", nil))
		if rec.Header().Get(MarkerHeader) != want {
			t.Errorf("request %d marker = %q, want %q", i, rec.Header().Get(MarkerHeader), want)
		}
		if rec.Body.String() != `{"path":"/chatting"}` {
			t.Errorf("body = %q", rec.Body.String())
		}
		if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
			t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uncached", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"path":"/uncached"}` {
		t.Errorf("direct response = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(MarkerHeader) != "" || rec.Header().Get("Cache-Control") != "max-age=60" {
		t.Errorf("direct headers = %v", rec.Header())
	}
	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
}

func TestEngineHandler_DirectErrors(t *testing.T) {
	e := newTestEngine(t, Config{})

	h := e.Handler(HandlerFunc(func(ctx context.Context, req *Request, c Capture) {
		c.Fail(&StatusError{Status: http.StatusNotFound})
		c.Send([]byte("ignored"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusNotFound || strings.Contains(rec.Body.String(), "ignored") {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestFromHTTPHandler_StandaloneRequest(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, time.Second)}})

	downstream := FromHTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s?%s %s", r.URL.Path, r.URL.RawQuery, r.Header.Get("X-Trace"))
	}))

	req := getRequest("/chatting?tab=1")
	req.Header = http.Header{"X-Trace": []string{"abc"}}
	sink := newTestSink(false)
	e.Do(req, sink, downstream)

	if d := sink.wait(t); string(d.resp.Body) != "/chatting?tab=1 abc" {
		t.Errorf("body = %q", d.resp.Body)
	}
}

func TestEngineHandler_ZeroStatusErrorFansOut(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, time.Second)}})

	release := make(chan struct{})
	h := e.Handler(HandlerFunc(func(ctx context.Context, req *Request, c Capture) {
		<-release
		c.Fail(&StatusError{Message: "boom"})
	}))
	server := httptest.NewServer(h)
	defer server.Close()

	type result struct {
		status int
		marker string
		body   string
	}
	results := make(chan result, 3)
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 3; i++ {
		go func() {
			resp, err := client.Get(server.URL + "/chatting")
			if err != nil {
				results <- result{status: -1}
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			results <- result{resp.StatusCode, resp.Header.Get(MarkerHeader), strings.TrimSpace(string(body))}
		}()
	}

	deadline := time.Now().Add(time.Second)
	for e.Stats().Queued < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	markers := map[string]int{}
	for i := 0; i < 3; i++ {
		r := <-results
		if r.status != http.StatusInternalServerError || r.body != "boom" {
			t.Errorf("response = %d %q, want 500 \"boom\"", r.status, r.body)
		}
		markers[r.marker]++
	}
	if markers["through"] != 1 || markers["queue"] != 2 {
		t.Errorf("markers = %v, want 1 through and 2 queue", markers)
	}
	if got := e.Stats().LateSignals; got != 0 {
		t.Errorf("LateSignals = %d, want 0", got)
	}
}

func TestEngineHandler_InvalidSendStatus(t *testing.T) {
	e := newTestEngine(t, Config{Rules: []rules.Rule{chatRule(time.Second, time.Second)}})

	h := e.Handler(HandlerFunc(func(ctx context.Context, req *Request, c Capture) {
		c.SendStatus(1200, []byte("nope"))
	}))

	for _, target := range []string{"/chatting", "/direct"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", target, rec.Code)
		}
	}
	if got := e.Stats().CacheEntries; got != 0 {
		t.Errorf("CacheEntries = %d, an invalid status must not be cached", got)
	}
}
