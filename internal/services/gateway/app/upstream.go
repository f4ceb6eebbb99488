package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

var errNotConfigured = errors.New("upstream not configured")

// Upstream wraps calls to an optional HTTP service behind a circuit breaker
// and keeps the last good answer for when the service is down.
type Upstream struct {
	name    string
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	lastGood map[string]json.RawMessage
}

// NewBreaker trips after fails consecutive failures and stays open for openFor.
func NewBreaker(name string, fails int, openFor time.Duration, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	if fails < 1 {
		fails = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: onChange,
	})
}

// NewUpstream builds a client for the service at base. An empty base disables it.
func NewUpstream(name, base string, timeout time.Duration, breaker *gobreaker.CircuitBreaker) *Upstream {
	return &Upstream{
		name:     name,
		base:     strings.TrimRight(strings.TrimSpace(base), "/"),
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
		lastGood: make(map[string]json.RawMessage),
	}
}

// Enabled reports whether a base URL is configured
func (u *Upstream) Enabled() bool {
	return u != nil && u.base != ""
}

// State returns the breaker state
func (u *Upstream) State() gobreaker.State {
	if u == nil || u.breaker == nil {
		return gobreaker.StateClosed
	}
	return u.breaker.State()
}

// GetJSON performs GET base+path and decodes into out. On failure the last good answer
// for the same path is decoded instead, if any, and the error is still returned.
func (u *Upstream) GetJSON(ctx context.Context, path string, out any) error {
	if !u.Enabled() {
		return errNotConfigured
	}
	res, err := u.breaker.Execute(func() (any, error) {
		return u.get(ctx, path)
	})
	if err != nil {
		u.mu.RLock()
		cached, ok := u.lastGood[path]
		u.mu.RUnlock()
		if ok {
			_ = json.Unmarshal(cached, out)
		}
		return fmt.Errorf("%s: %w", u.name, err)
	}

	raw := res.(json.RawMessage)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s decode error: %w", u.name, err)
	}
	u.mu.Lock()
	u.lastGood[path] = raw
	u.mu.Unlock()
	return nil
}

func (u *Upstream) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Error") != "" {
		return nil, fmt.Errorf("upstream reported %s", resp.Header.Get("X-Error"))
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	return raw, nil
}
