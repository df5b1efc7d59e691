// Package transport provides the HTTP client shared by the network sources.
//
// Every request carries its own timeout through the context, so a hung
// backend can delay a tick by at most that timeout. Response bodies are
// capped at 1MB.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// DefaultTimeout is used when a request does not set one.
const DefaultTimeout = 10 * time.Second

// connection pooling limits; sources poll a handful of hosts sequentially
const (
	defaultMaxIdleConns        = 16
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second
)

// Request describes a single HTTP call.
type Request struct {
	// Method defaults to GET when empty.
	Method string

	// URL is the absolute request URL including the query string.
	URL string

	// Headers are set on the request in addition to ContentType.
	Headers map[string]string

	// Body is sent as-is when non-nil.
	Body []byte

	// ContentType sets the Content-Type header when non-empty.
	ContentType string

	// Timeout bounds the whole exchange. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Response holds the result of a [Client.Do] call.
type Response struct {
	// Body contains the HTTP response body, limited to 1MB.
	Body []byte

	// StatusCode is zero if the request failed before receiving a response.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration
}

// OK reports whether the status code is 2xx.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError is returned by [Client.Do] for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code %d", e.Method, e.URL, e.StatusCode)
}

// Client is an HTTP client wrapper for polling telemetry backends.
type Client struct {
	httpClient *http.Client
}

// ClientOption configures a [Client].
type ClientOption func(*http.Transport)

// WithInsecureTLS disables certificate verification. Home gateways commonly
// serve self-signed certificates.
func WithInsecureTLS() ClientOption {
	return func(t *http.Transport) {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for LAN devices
	}
}

// NewClient creates a new [Client].
//
// Timeouts are applied per request via the context in [Client.Do], not as a
// global client timeout.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}
	for _, opt := range opts {
		opt(transport)
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
	}
}

// Do performs the request and returns the response.
//
// A non-nil error is returned when the request could not be made, the body
// could not be read, or the status code is not 2xx (as a *[StatusError]).
// The Response is populated as far as the exchange got, so callers can still
// inspect the body of a non-2xx response.
func (c *Client) Do(ctx context.Context, r Request) (Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return Response{Latency: time.Since(start)}, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{Latency: time.Since(start)}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	out := Response{
		Body:       data,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
	}
	if err != nil {
		return out, fmt.Errorf("failed to read response body: %w", err)
	}
	if !out.OK() {
		// query strings may carry session IDs or API keys
		u := *req.URL
		u.RawQuery = ""
		return out, &StatusError{Method: method, URL: u.Redacted(), StatusCode: resp.StatusCode}
	}
	return out, nil
}

// Close closes all idle connections in the client's connection pool.
// Safe to call multiple times and on a nil receiver.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
