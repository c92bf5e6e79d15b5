package shield

import (
	"context"
	"net/http"
)

// MarkerHeader carries the Marker on HTTP responses.
const MarkerHeader = "X-Shield"

// Marker tells the caller which path produced its response.
type Marker string

const (
	// MarkerHit marks a response served from the cache.
	MarkerHit Marker = "hit"

	// MarkerQueue marks a waiter that received the leader's outcome.
	MarkerQueue Marker = "queue"

	// MarkerThrough marks the leader that ran the downstream handler.
	MarkerThrough Marker = "through"

	// MarkerRefuse marks a request rejected because the queue was full.
	MarkerRefuse Marker = "refuse"
)

// Admission is the engine's decision for one request.
type Admission int

const (
	// PassThrough means the request is not eligible; the sink was not touched.
	PassThrough Admission = iota
	// Hit means the sink was served from the cache.
	Hit
	// Queued means the sink waits for the current leader.
	Queued
	// Through means the request became leader.
	Through
	// Rejected means the sink received ErrBusy.
	Rejected
)

func (a Admission) String() string {
	switch a {
	case PassThrough:
		return "pass"
	case Hit:
		return "hit"
	case Queued:
		return "queue"
	case Through:
		return "through"
	case Rejected:
		return "refuse"
	default:
		return "unknown"
	}
}

// Request is the routing-layer view of an incoming request.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header

	// HTTP is the originating request, if any
	HTTP *http.Request
}

// NewRequest builds a Request from an *http.Request.
func NewRequest(r *http.Request) *Request {
	return &Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
		HTTP:     r,
	}
}

// Context returns the originating request context, or context.Background.
func (r *Request) Context() context.Context {
	if r.HTTP != nil {
		return r.HTTP.Context()
	}
	return context.Background()
}

// Target returns path plus "?" and the raw query when present.
func (r *Request) Target() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// Response is a successful outcome as delivered to one sink.
type Response struct {
	Status       int
	Body         []byte
	ContentType  string
	CacheControl string

	// Encoding is "gzip" when Body is the compressed variant
	Encoding string

	// VaryEncoding is set when the response has variants by Accept-Encoding
	VaryEncoding bool
}

// StatusCode returns the status, defaulting to 200.
func (r Response) StatusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// Sink receives the terminal outcome for one caller.
// The engine calls at most one Deliver method per sink.
type Sink interface {
	DeliverSuccess(resp Response, marker Marker)
	DeliverError(err error, marker Marker)
	DeliverRedirect(status int, location string, marker Marker)

	// AcceptsEncoding reports whether the caller accepts a content-coding
	AcceptsEncoding(token string) bool
}

// Handler produces the outcome for a leader cycle through a Capture.
type Handler interface {
	Serve(ctx context.Context, req *Request, c Capture)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request, c Capture)

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, req *Request, c Capture) {
	f(ctx, req, c)
}
