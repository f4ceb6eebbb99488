// Package device is the HTTP client of the SynLab ESP32 board.
//
// The board exposes four endpoints: GET /data (sensor JSON), POST /start, GET /stop and
// GET /pump?state=on|off. No call is retried; every call is bounded by the client timeout.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

const (
	// DefaultBaseURL is the address of the board in access-point mode
	DefaultBaseURL = "http://192.168.4.1"

	// DefaultTimeout bounds a single call
	DefaultTimeout = 3 * time.Second

	maxBodyBytes = 1 << 20
)

// Client talks to one board
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New instantiates a client for the board at baseURL, executing functional options, if any
func New(baseURL string, options ...func(*Client)) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	c := &Client{
		base:    base,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  logging.NullLogger{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// BaseURL returns the normalised base address of the board
func (c *Client) BaseURL() string {
	return c.base
}

// ReadSensors fetches the current reading, bypassing any cache.
// Every failure matches ErrUnreachable; a malformed body additionally matches ErrParse.
func (c *Client) ReadSensors(ctx context.Context) (entities.SensorReading, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/data", nil)
	if err != nil {
		return entities.SensorReading{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return entities.SensorReading{}, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drain(resp.Body)
		return entities.SensorReading{}, fmt.Errorf("%w: %w", ErrUnreachable, &StatusError{Op: "read sensors", Status: resp.StatusCode})
	}

	var r entities.SensorReading
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&r); err != nil {
		return entities.SensorReading{}, fmt.Errorf("%w: %w: %v", ErrUnreachable, ErrParse, err)
	}
	return r, nil
}

// StartExperiment asks the board to run an experiment at targetTemp °C for durationMin minutes.
func (c *Client) StartExperiment(ctx context.Context, name string, targetTemp float64, durationMin int) error {
	form := url.Values{}
	form.Set("name", name)
	form.Set("temp", strconv.FormatFloat(targetTemp, 'f', -1, 64))
	form.Set("duration", strconv.Itoa(durationMin))

	return c.command(ctx, "start experiment", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/start", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// StopExperiment stops the running experiment. Callers may ignore the result.
func (c *Client) StopExperiment(ctx context.Context) error {
	return c.command(ctx, "stop experiment", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/stop", nil)
	})
}

// SetPumpState switches the water pump. Callers may ignore the result.
func (c *Client) SetPumpState(ctx context.Context, state entities.PumpState) error {
	if _, err := entities.ParsePumpState(string(state)); err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	q := url.Values{"state": []string{string(state)}}
	return c.command(ctx, "set pump "+string(state), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/pump?"+q.Encode(), nil)
	})
}

////////////////////////////////////////////////////////////////////////////////

func (c *Client) command(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) error {
	run := func() (interface{}, error) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		drain(resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Op: op, Status: resp.StatusCode}
		}
		return nil, nil
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(run)
	} else {
		_, err = run()
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warnf("%s skipped, command breaker %s", op, c.breaker.State())
		} else {
			c.logger.Debugf("%s failed: %s", op, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrCommandFailed, op, err)
	}

	c.logger.Debugf("%s ok", op)
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxBodyBytes))
}
