// Package upstream provides a shield.Handler that fetches responses from
// an origin server over HTTP.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/http-shield/pkg/shield"
)

// DefaultMaxBodyBytes bounds how much of an origin body is read.
const DefaultMaxBodyBytes = 10 << 20

// Config holds the origin client configuration.
type Config struct {
	// BaseURL is the origin, e.g. "http://localhost:3000" (required)
	BaseURL string

	// UserAgent is sent on every origin request
	UserAgent string

	// Timeout bounds one origin request
	Timeout time.Duration

	// ForwardHeaders are copied from the incoming request
	ForwardHeaders []string

	// MaxBodyBytes bounds the origin body size
	MaxBodyBytes int64
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "http-shield/1.0",
		Timeout:        30 * time.Second,
		ForwardHeaders: []string{"Accept", "Accept-Language"},
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

// Client forwards shielded requests to the origin.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new origin client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %w", ErrInvalidConfig, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, base.Scheme)
	}

	defaults := DefaultConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base:   base,
		config: cfg,
		logger: log.With().Str("component", "upstream").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
// Redirects are still surfaced, not followed.
func (c *Client) SetHTTPClient(client *http.Client) {
	client.CheckRedirect = c.httpClient.CheckRedirect
	c.httpClient = client
}

// Serve implements shield.Handler.
//
// Origin responses are passed on with their status; redirects become
// redirect outcomes. Transport failures become a 502 StatusError.
func (c *Client) Serve(ctx context.Context, req *shield.Request, capture shield.Capture) {
	resp, body, err := c.fetch(ctx, req)
	if err != nil {
		capture.Fail(&shield.StatusError{
			Status:  http.StatusBadGateway,
			Message: http.StatusText(http.StatusBadGateway),
			Err:     err,
		})
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		capture.SetHeader("Content-Type", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "" {
		capture.SetHeader("Cache-Control", cc)
	}

	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		capture.Redirect(resp.StatusCode, c.localLocation(loc))
		return
	}

	capture.SendStatus(resp.StatusCode, body)
}

// fetch performs one origin request and reads the body.
func (c *Client) fetch(ctx context.Context, req *shield.Request) (*http.Response, []byte, error) {
	target := c.base.String() + req.Target()

	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	out, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	out.Header.Set("User-Agent", c.config.UserAgent)
	for _, name := range c.config.ForwardHeaders {
		if v := req.Header.Get(name); v != "" {
			out.Header.Set(name, v)
		}
	}

	c.logger.Debug().
		Str("target", target).
		Str("method", method).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(out)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Str("target", target).Msg("Upstream request failed")
		return nil, nil, &Error{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, nil, &Error{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		requestsTotal.WithLabelValues("too_large").Inc()
		return nil, nil, &Error{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "body exceeds " + strconv.FormatInt(c.config.MaxBodyBytes, 10) + " bytes",
		}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if class := Classify(resp, nil); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("target", target).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream error response")
	} else {
		c.logger.Info().
			Str("target", target).
			Int("status_code", resp.StatusCode).
			Dur("duration", time.Since(startTime)).
			Msg("Upstream request complete")
	}

	return resp, body, nil
}

// localLocation strips the origin prefix from absolute redirects to it.
func (c *Client) localLocation(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() || u.Host != c.base.Host || u.Scheme != c.base.Scheme {
		return loc
	}
	local := u.EscapedPath()
	if local == "" {
		local = "/"
	}
	if u.RawQuery != "" {
		local += "?" + u.RawQuery
	}
	return local
}

// IsNetworkError reports whether err is an origin transport failure.
func IsNetworkError(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.ErrorClass == ErrorClassNetwork
}
