// Package relay drives the downstream media relay (go2rtc) through its stream
// control API. Every call is idempotent and fire-and-forget: failures are
// logged and returned for bookkeeping, never escalated.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/craigst/cb-plug-in/internal/platform/metrics"
)

// StreamsEndpoint is the relay path for stream registration.
const StreamsEndpoint = "/api/streams"

// maxBodyLog caps how much of a relay error body ends up in a log line.
const maxBodyLog = 512

// Options configures a Client.
type Options struct {
	BaseURL string

	// Timeout bounds each HTTP attempt. Default: 30s.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts on transport errors and 5xx.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Breaker enables a circuit breaker so a dead relay is skipped quickly.
	Breaker bool
}

// Client talks to the relay's stream API.
type Client struct {
	base     string
	http     *http.Client
	timeout  time.Duration
	executor failsafe.Executor[*response]
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// response is a fully read relay reply; bodies never outlive the attempt.
type response struct {
	status int
	body   string
}

// NewClient returns a Client using the shared httpClient.
func NewClient(httpClient *http.Client, opts Options, log *slog.Logger, m *metrics.Metrics) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay * 10
	}

	shouldRetry := func(r *response, err error) bool {
		return err != nil || (r != nil && r.status >= http.StatusInternalServerError)
	}
	retry := retrypolicy.NewBuilder[*response]().
		HandleIf(shouldRetry).
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		Build()

	executor := failsafe.With[*response](retry)
	if opts.Breaker {
		breaker := circuitbreaker.NewBuilder[*response]().
			HandleIf(shouldRetry).
			WithFailureThresholdRatio(5, 10).
			WithDelay(15 * time.Second).
			WithSuccessThreshold(1).
			OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
				log.Warn("relay circuit breaker state change",
					slog.String("from", stateName(e.OldState)),
					slog.String("to", stateName(e.NewState)))
			}).
			Build()
		executor = failsafe.With[*response](retry, breaker)
	}

	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		timeout:  opts.Timeout,
		executor: executor,
		log:      log,
		metrics:  m,
	}
}

// Upsert registers name at the relay pointing at src, replacing any previous
// registration under the same name.
func (c *Client) Upsert(ctx context.Context, name, src string) error {
	q := url.Values{}
	q.Set("name", name)
	q.Set("src", src)
	return c.call(ctx, "upsert", http.MethodPut, name, q)
}

// Remove deletes the registration for name. An unknown name is not an error.
func (c *Client) Remove(ctx context.Context, name string) error {
	q := url.Values{}
	q.Set("src", name)
	return c.call(ctx, "remove", http.MethodDelete, name, q)
}

func (c *Client) call(ctx context.Context, op, method, name string, q url.Values) error {
	target := c.base + StreamsEndpoint + "?" + q.Encode()

	res, err := c.executor.WithContext(ctx).Get(func() (*response, error) {
		return c.do(ctx, method, target)
	})
	if err != nil {
		c.metrics.IncRelayCall(op, "error")
		c.log.Warn("relay call failed",
			slog.String("op", op),
			slog.String("stream", name),
			slog.String("error", err.Error()))
		return fmt.Errorf("relay %s %s: %w", op, name, err)
	}

	if res.status >= http.StatusBadRequest && !(op == "remove" && res.status == http.StatusNotFound) {
		c.metrics.IncRelayCall(op, "error")
		c.log.Error("relay rejected call",
			slog.String("op", op),
			slog.String("stream", name),
			slog.Int("status", res.status),
			slog.String("body", res.body))
		return fmt.Errorf("relay %s %s: status %d", op, name, res.status)
	}

	c.metrics.IncRelayCall(op, "ok")
	c.log.Debug("relay call ok", slog.String("op", op), slog.String("stream", name))
	return nil
}

// do performs one attempt and reads the reply fully so retries never leak bodies.
func (c *Client) do(ctx context.Context, method, target string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	return &response{status: resp.StatusCode, body: string(body)}, nil
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
