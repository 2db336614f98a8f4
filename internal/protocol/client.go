// Package protocol implements HTTP communication with RPC2 devices.
// This file provides the default Transport: a plain JSON POST over net/http with
// connection reuse, request statistics and structured transport errors. It does
// not retry.
package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/logging"
)

// Transport posts one JSON document and returns the reply body.
type Transport interface {
	Post(ctx context.Context, url string, body []byte) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, url string, body []byte) ([]byte, error)

// Post implements Transport.
func (f TransportFunc) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	return f(ctx, url, body)
}

// Ensure HTTPTransport implements Transport at compile time.
var _ Transport = (*HTTPTransport)(nil)

const (
	defaultUserAgent = "rpc2ctl/1.0"
	maxErrorBody     = 4096
)

// HTTPTransport is the net/http backed Transport.
type HTTPTransport struct {
	httpClient *http.Client
	userAgent  string
	logger     *logging.Logger
	stats      Statistics
	mutex      sync.Mutex
}

// Statistics tracks communication metrics for monitoring and debugging
type Statistics struct {
	TotalRequests       int           `json:"totalRequests"`
	SuccessfulRequests  int           `json:"successfulRequests"`
	FailedRequests      int           `json:"failedRequests"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	LastRequestTime     time.Time     `json:"lastRequestTime"`
	BytesSent           int64         `json:"bytesSent"`
	BytesReceived       int64         `json:"bytesReceived"`
}

// TransportOption configures an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) TransportOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) TransportOption {
	return func(t *HTTPTransport) {
		if strings.TrimSpace(ua) != "" {
			t.userAgent = ua
		}
	}
}

// WithTransportLogger sets the logger used for request tracing.
func WithTransportLogger(l *logging.Logger) TransportOption {
	return func(t *HTTPTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewHTTPTransport creates a transport with pooled connections and sane timeouts.
func NewHTTPTransport(opts ...TransportOption) *HTTPTransport {
	t := &HTTPTransport{
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		userAgent: defaultUserAgent,
		logger:    logging.GetProtocolLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Post sends body to url and returns the reply body.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, t.wrapNetworkError(url, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)

	startTime := time.Now()
	resp, err := t.httpClient.Do(req)
	responseTime := time.Since(startTime)

	if err != nil {
		t.updateStatistics(responseTime, false, len(body), 0)
		return nil, t.wrapNetworkError(url, "request execution failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		t.updateStatistics(responseTime, false, len(body), 0)
		return nil, t.wrapNetworkError(url, "failed to read response body", err)
	}

	t.logger.LogHTTPRequest(url, resp.StatusCode, responseTime)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.updateStatistics(responseTime, false, len(body), len(reply))
		return nil, t.handleHTTPError(url, resp, reply)
	}

	t.updateStatistics(responseTime, true, len(body), len(reply))
	return reply, nil
}

// Statistics returns a copy of the request statistics.
func (t *HTTPTransport) Statistics() Statistics {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.stats
}

// CloseIdleConnections releases pooled connections.
func (t *HTTPTransport) CloseIdleConnections() {
	t.httpClient.CloseIdleConnections()
}

// wrapNetworkError wraps network-related errors
func (t *HTTPTransport) wrapNetworkError(url, message string, err error) error {
	return &ProtocolError{
		Kind:      KindTransport,
		Message:   message,
		HTTP:      &HTTPErrorDetails{URL: url},
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// handleHTTPError converts a non-2xx reply into a transport error
func (t *HTTPTransport) handleHTTPError(url string, resp *http.Response, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &ProtocolError{
		Kind:    KindTransport,
		Message: fmt.Sprintf("HTTP error %d", resp.StatusCode),
		HTTP: &HTTPErrorDetails{
			URL:         url,
			StatusCode:  resp.StatusCode,
			StatusText:  resp.Status,
			Body:        string(body),
			ContentType: resp.Header.Get("Content-Type"),
		},
		Timestamp: time.Now(),
	}
}

// updateStatistics updates request statistics
func (t *HTTPTransport) updateStatistics(responseTime time.Duration, success bool, sent, received int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	stats := &t.stats
	stats.TotalRequests++
	stats.LastRequestTime = time.Now()
	stats.BytesSent += int64(sent)
	stats.BytesReceived += int64(received)

	if success {
		stats.SuccessfulRequests++
	} else {
		stats.FailedRequests++
	}

	if stats.TotalRequests == 1 {
		stats.AverageResponseTime = responseTime
	} else {
		total := stats.AverageResponseTime * time.Duration(stats.TotalRequests-1)
		stats.AverageResponseTime = (total + responseTime) / time.Duration(stats.TotalRequests)
	}
}

// ParseBaseURL normalises a device address ("host", "host:port" or a full URL)
// into a base URL with no path, query or fragment.
func ParseBaseURL(host string) (*url.URL, error) {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return nil, fmt.Errorf("host cannot be empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host %q has no address", host)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// ResolveEndpoint joins a base URL and an endpoint path.
func ResolveEndpoint(base *url.URL, endpoint string) string {
	if endpoint == "" {
		endpoint = EndpointRPC
	}
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	rel := &url.URL{Path: endpoint}
	return base.ResolveReference(rel).String()
}
