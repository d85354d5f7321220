// Package delivery posts encrypted messages to push service endpoints
// and classifies what came back. It never retries on its own; callers
// decide what a transient result is worth.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"herald/service/notification"

	"github.com/sony/gobreaker/v2"
)

const (
	// DefaultTimeout caps a single push request.
	DefaultTimeout = 10 * time.Second

	// DefaultConnectTimeout caps the dial phase.
	DefaultConnectTimeout = 5 * time.Second

	// maxDrain bounds how much of a response body gets read for
	// connection reuse.
	maxDrain = 4096
)

// Signer produces the Authorization header value for an endpoint.
type Signer interface {
	Authorization(endpoint string) (string, error)
}

// Options carry the push service headers for one request.
type Options struct {
	// TTL is how long, in seconds, the push service may hold the
	// message for an offline client. Zero asks for immediate
	// delivery or nothing.
	TTL int

	// Urgency lets the client radio sleep through low-priority
	// messages. Empty omits the header.
	Urgency notification.Urgency

	// Topic collapses queued messages with the same value. Empty
	// omits the header.
	Topic string
}

type Config struct {
	// Timeout for a single request. Zero selects DefaultTimeout.
	Timeout time.Duration

	// ConnectTimeout for the dial phase. Zero selects
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// Client sends push messages. Each push service host gets a circuit
// breaker, so a dead service fails fast instead of eating a timeout
// per subscriber.
type Client struct {
	httpClient *http.Client
	signer     Signer
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

func NewClient(signer Signer, logger *slog.Logger, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	// One pooled transport for all push services: idle connections per
	// host keep batches from paying the TLS handshake per message.
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		signer:     signer,
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// Send posts body to endpoint and classifies the response. The error
// return is reserved for requests that could not be built or signed;
// network failures come back as a transient Result.
func (c *Client) Send(ctx context.Context, endpoint string, body []byte, opts Options) (*Result, error) {
	authorization, err := c.signer.Authorization(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	req.Header.Set("TTL", strconv.Itoa(ttl))
	req.Header.Set("Authorization", authorization)
	if opts.Urgency != "" {
		req.Header.Set("Urgency", string(opts.Urgency))
	}
	if opts.Topic != "" {
		req.Header.Set("Topic", opts.Topic)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Encoding", "aes128gcm")
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.breakerFor(req.URL.Host).Execute(func() (*http.Response, error) {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		// 5xx responses count against the breaker.
		if r.StatusCode >= 500 {
			return r, &serverError{statusCode: r.StatusCode}
		}
		return r, nil
	})

	if resp == nil {
		c.logger.Debug("Push request failed", "endpoint", endpoint, "error", err)
		return &Result{Status: StatusTransient, Err: err}, nil
	}

	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	result := classify(resp, time.Now())
	c.logger.Debug("Push request completed", "endpoint", endpoint, "status", resp.StatusCode, "outcome", result.Status)
	return result, nil
}

func (c *Client) breakerFor(host string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	breaker, ok := c.breakers[host]
	if !ok {
		breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Timeout:     60 * time.Second,
			ReadyToTrip: readyToTrip,
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("Push service circuit state changed", "host", name, "from", from.String(), "to", to.String())
			},
		})
		c.breakers[host] = breaker
	}

	return breaker
}

// readyToTrip opens the circuit once a host has seen at least five
// requests failing half the time.
func readyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// serverError feeds 5xx responses to the circuit breaker as failures.
type serverError struct {
	statusCode int
}

func (e *serverError) Error() string {
	return "push service error: " + http.StatusText(e.statusCode)
}
