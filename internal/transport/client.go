// Package transport is the boundary between the scenario executor and the
// system under test.
//
// The executor only depends on the Client interface. HTTPClient is the
// production implementation; tests substitute their own Client or point an
// HTTPClient at an httptest server.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

// Client executes one remote operation.
//
// Execute never returns nil and never panics on transport failure: a failed
// call is reported as a Result with StatusCode 0 and Err set.
type Client interface {
	Execute(ctx context.Context, req *Request) *Result
}

// HTTPConfig contains connection pool settings for the shared HTTP client.
type HTTPConfig struct {
	// Timeout for a single request, including reading the body
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	DisableKeepAlives  bool
	InsecureSkipVerify bool
}

// DefaultHTTPConfig returns pool settings sized for many concurrent VUs.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// HTTPClient is a Client backed by net/http. All VUs share one instance so
// connections are pooled across the run.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	timeout    time.Duration
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithBaseURL sets the prefix used for relative request URLs.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHeader adds a header sent with every request. Request headers win.
func WithHeader(key, value string) ClientOption {
	return func(c *HTTPClient) {
		c.headers[key] = value
	}
}

// NewHTTPClient creates a client with a pooled transport built from cfg.
func NewHTTPClient(cfg HTTPConfig, options ...ClientOption) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test environments
	}

	c := &HTTPClient{
		httpClient: &http.Client{Transport: tr},
		headers:    make(map[string]string),
		timeout:    cfg.Timeout,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// CloseIdleConnections releases pooled connections at the end of a run.
func (c *HTTPClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Execute sends req and reads the full response body.
func (c *HTTPClient) Execute(ctx context.Context, req *Request) *Result {
	res := &Result{Request: req}

	// The deadline also covers reading the body.
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.build(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}

	timing := TimingInfo{StartTime: time.Now()}
	var dnsStart, connectStart, tlsStart time.Time
	lastPhaseEnd := timing.StartTime

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			dnsStart = time.Now()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			now := time.Now()
			timing.DNSLookup = now.Sub(dnsStart)
			lastPhaseEnd = now
		},
		ConnectStart: func(string, string) {
			connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				now := time.Now()
				timing.TCPConnect = now.Sub(connectStart)
				lastPhaseEnd = now
			}
		},
		TLSHandshakeStart: func() {
			tlsStart = time.Now()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				now := time.Now()
				timing.TLSHandshake = now.Sub(tlsStart)
				lastPhaseEnd = now
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			timing.ConnReused = info.Reused
			if info.Reused {
				lastPhaseEnd = time.Now()
			}
		},
		GotFirstResponseByte: func() {
			timing.TimeToFirstByte = time.Since(lastPhaseEnd)
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		res.Elapsed = time.Since(timing.StartTime)
		res.Timing = timing
		res.Err = err
		return res
	}
	defer httpResp.Body.Close()

	transferStart := time.Now()
	body, readErr := io.ReadAll(httpResp.Body)
	timing.ContentTransfer = time.Since(transferStart)

	res.Elapsed = time.Since(timing.StartTime)
	res.Timing = timing
	res.StatusCode = httpResp.StatusCode
	res.Headers = httpResp.Header
	res.Body = body
	if readErr != nil {
		res.Err = fmt.Errorf("reading response body: %w", readErr)
	}
	return res
}

func (c *HTTPClient) build(ctx context.Context, req *Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	url := req.URL
	if c.baseURL != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + "/" + strings.TrimLeft(url, "/")
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, url, err)
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}
