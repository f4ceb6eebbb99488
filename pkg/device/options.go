package device

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) func(*Client) {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithTimeout bounds every single call (default 3s, <= 0 disables)
func WithTimeout(d time.Duration) func(*Client) {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// WithLogger sets a logger
func WithLogger(l logging.Logger) func(*Client) {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithCommandBreaker guards start/stop/pump with a circuit breaker.
// The sensor read path is never guarded.
func WithCommandBreaker(cb *gobreaker.CircuitBreaker) func(*Client) {
	return func(cl *Client) {
		cl.breaker = cb
	}
}

// NewCommandBreaker trips after fails consecutive command failures and stays open for openFor.
func NewCommandBreaker(name string, fails int, openFor time.Duration) *gobreaker.CircuitBreaker {
	if fails < 1 {
		fails = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
	})
}
