// Package backend talks to the agent backend over plain HTTP: liveness,
// client registration, and posting responses to pushed requests.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"agentone/log"
	"agentone/request"
)

const (
	DefaultBaseURL = "http://localhost:8080"

	pingPath     = "/ping"
	registerPath = "/api/register"
	eventsPath   = "/api/events"
	responsePath = "/api/response"
)

var ErrStatus = errors.New("unexpected status")

// RetryPolicy bounds how often a failed request is retried. Max 0 means a
// single attempt.
type RetryPolicy struct {
	Max     int
	WaitMin time.Duration
	WaitMax time.Duration
}

type Options struct {
	Timeout time.Duration
	Retry   RetryPolicy
	// Transport overrides the HTTP transport (tests pass httptest clients).
	Transport http.RoundTripper
}

type Client struct {
	base *url.URL
	http *retryablehttp.Client
}

type attemptsKey struct{}

func New(baseURL string, opts Options) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	if opts.Retry.Max < 0 {
		return nil, fmt.Errorf("retry max must not be negative, got %d", opts.Retry.Max)
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	rc.Logger = log.Leveled{}
	rc.RetryMax = opts.Retry.Max
	if opts.Retry.WaitMin > 0 {
		rc.RetryWaitMin = opts.Retry.WaitMin
	}
	if opts.Retry.WaitMax > 0 {
		rc.RetryWaitMax = opts.Retry.WaitMax
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		if n, ok := req.Context().Value(attemptsKey{}).(*int32); ok {
			atomic.AddInt32(n, 1)
		}
	}

	return &Client{base: base, http: rc}, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

// EventsURL is the server-push endpoint for one client id.
func (c *Client) EventsURL(clientID string) string {
	return c.base.JoinPath(eventsPath, url.PathEscape(clientID)).String()
}

func (c *Client) ResponseURL() string {
	return c.base.JoinPath(responsePath).String()
}

// StreamTransport is the transport a long-lived push subscription should use.
// It carries no request timeout.
func (c *Client) StreamTransport() http.RoundTripper {
	return c.http.HTTPClient.Transport
}

type SendResult struct {
	StatusCode int
	Attempts   int
	Metrics    *NetworkMetrics
}

// Send posts resp to the response endpoint. The response body is discarded.
// A non-2xx status left after the retry policy is exhausted is returned as
// ErrStatus alongside the result.
func (c *Client) Send(ctx context.Context, resp request.Response) (*SendResult, error) {
	body, err := resp.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.ResponseURL(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, result, err := c.do(req)
	if err != nil {
		return result, fmt.Errorf("post response: %w", err)
	}
	defer httpResp.Body.Close()
	io.Copy(io.Discard, httpResp.Body)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return result, fmt.Errorf("post response: %w %d", ErrStatus, httpResp.StatusCode)
	}
	return result, nil
}

// Ping checks the backend liveness endpoint, which answers "pong".
func (c *Client) Ping(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath(pingPath).String(), nil)
	if err != nil {
		return err
	}
	resp, _, err := c.do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: %w %d", ErrStatus, resp.StatusCode)
	}
	if got := strings.Trim(strings.TrimSpace(string(body)), `"`); got != "pong" {
		return fmt.Errorf("ping: unexpected body %q", got)
	}
	return nil
}

type registerResponse struct {
	ClientID string `json:"client_id"`
}

// Register asks the backend for a fresh client id.
func (c *Client) Register(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(registerPath).String(), nil)
	if err != nil {
		return "", err
	}
	resp, _, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("register: %w %d", ErrStatus, resp.StatusCode)
	}
	var rr registerResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return "", fmt.Errorf("register response parse error: %w", err)
	}
	if rr.ClientID == "" {
		return "", errors.New("register: empty client_id")
	}
	return rr.ClientID, nil
}

func (c *Client) do(req *retryablehttp.Request) (*http.Response, *SendResult, error) {
	metrics := &NetworkMetrics{}
	var attempts int32
	ctx := httptrace.WithClientTrace(req.Context(), newTrace(metrics))
	ctx = context.WithValue(ctx, attemptsKey{}, &attempts)
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.Total = time.Since(start)

	result := &SendResult{Attempts: int(atomic.LoadInt32(&attempts)), Metrics: metrics}
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, result, err
	}
	return resp, result, nil
}
