// Package resilience wraps outbound forecast-provider calls with circuit
// breakers, bounded retries and per-provider call gates.
package resilience

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Errors surfaced by the resilient client. Adapters translate these into
// the weather fault taxonomy at their boundary.
var (
	// ErrCircuitOpen is returned while a provider's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited is returned on HTTP 429. It is never retried: a
	// throttling provider needs backing off, not hammering.
	ErrRateLimited = errors.New("rate limited by provider")
)

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the provider for circuit breaker naming.
	Name string

	// Timeout is the per-request timeout. Default: 10s.
	Timeout time.Duration

	// MaxRetries bounds retry attempts on transient failures. Default: 3.
	MaxRetries uint64

	// InitialInterval is the first retry backoff interval. Default: 100ms.
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff interval. Default: 5s.
	MaxInterval time.Duration

	// CircuitBreaker configuration; nil uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultClientConfig returns sensible defaults for a provider client.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// Client is a resilient HTTP client shared by all provider adapters.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cbConfig := cfg.CircuitBreaker
	if cbConfig == nil {
		defaultCB := DefaultCircuitBreakerConfig(cfg.Name)
		cbConfig = &defaultCB
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: NewCircuitBreaker[*http.Response](*cbConfig), //nolint:bodyclose // type param, not response
		config:         cfg,
	}
}

// Do executes an HTTP request with circuit breaker protection and retry on
// transient failures (5xx, network errors). 429 and circuit-open abort
// immediately without further attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries bounded via WithMaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var lastResp *http.Response

	// keep swaps in a newer response, closing the body of the one it
	// supersedes so retried 5xx attempts do not leak connections.
	keep := func(resp *http.Response) {
		if lastResp != nil && lastResp != resp {
			_ = lastResp.Body.Close()
		}
		lastResp = resp
	}

	operation := func() error {
		// 5xx responses come back as errors so they both retry and feed the
		// circuit breaker.
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller closes
			reqClone := req.Clone(ctx)
			r, err := c.httpClient.Do(reqClone)
			if err != nil {
				return nil, err
			}
			if r.StatusCode == http.StatusTooManyRequests {
				_ = r.Body.Close()
				return nil, ErrRateLimited
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if errors.Is(err, ErrRateLimited) {
				return backoff.Permanent(ErrRateLimited)
			}
			if resp != nil {
				keep(resp)
			}
			return err
		}

		keep(resp)
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if lastResp != nil {
			// A 5xx that exhausted retries still hands the caller the
			// response so it can inspect the status.
			if !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, ErrRateLimited) {
				return lastResp, nil
			}
			_ = lastResp.Body.Close()
		}
		return nil, err
	}

	return lastResp, nil
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}

