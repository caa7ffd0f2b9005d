// Package transport performs outbound HTTP for the source adapters and
// the download queue. Every host gets its own rate limiter and circuit
// breaker; anti-bot interstitials surface as apperr.ChallengeError.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/clock"
)

type Config struct {
	UserAgent      string
	Timeout        time.Duration
	RPS            float64 // per host; <= 0 disables pacing
	Burst          int
	MaxRetries     int
	RetryBaseDelay time.Duration
	MaxBodyBytes   int64

	CBFailureThreshold uint32
	CBTimeout          time.Duration
}

// RequestOptions are the per-request headers and cookies.
type RequestOptions struct {
	Headers map[string]string
	Cookies map[string]string
}

type Response struct {
	Status int
	Body   []byte
	Header http.Header
	URL    string // final URL after redirects
}

type Client struct {
	HTTPClient *http.Client
	Config     Config
	Log        *zap.Logger
	Clock      clock.Clock

	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.Clock = clk }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 16 << 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CBFailureThreshold == 0 {
		cfg.CBFailureThreshold = 5
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = 30 * time.Second
	}
	c := &Client{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Config:     cfg,
		Log:        zap.NewNop(),
		Clock:      clock.Real(),
		hosts:      make(map[string]*hostState),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) UserAgent() string { return c.Config.UserAgent }

func (c *Client) host(rawURL string) (*hostState, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &apperr.NetworkError{Op: "get", URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hs, ok := c.hosts[u.Host]; ok {
		return hs, nil
	}

	limit := rate.Inf
	if c.Config.RPS > 0 {
		limit = rate.Limit(c.Config.RPS)
	}
	threshold := c.Config.CBFailureThreshold
	log := c.Log
	hs := &hostState{
		limiter: rate.NewLimiter(limit, c.Config.Burst),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    u.Host,
			Timeout: c.Config.CBTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Only transport failures trip the breaker; a challenge or a
			// 404 is a definite answer from a live host.
			IsSuccessful: func(err error) bool {
				return err == nil || apperr.KindOf(err) != apperr.KindNetwork
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info("circuit-breaker state change", zap.String("host", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	}
	c.hosts[u.Host] = hs
	return hs, nil
}

// Get fetches rawURL, retrying network failures with exponential backoff.
func (c *Client) Get(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	var resp *Response
	err := c.withRetry(ctx, rawURL, func() error {
		r, err := c.getOnce(ctx, rawURL, opts)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return resp, err
}

func (c *Client) withRetry(ctx context.Context, rawURL string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			c.Log.Debug("retrying request", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.Clock.After(delay):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperr.Retryable(err) {
			return err
		}
		c.Log.Warn("request failed", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
	}
	return lastErr
}

// guarded runs fn behind the host's limiter and breaker.
func (c *Client) guarded(ctx context.Context, rawURL string, fn func() error) error {
	hs, err := c.host(rawURL)
	if err != nil {
		return err
	}
	if err := hs.limiter.Wait(ctx); err != nil {
		return &apperr.NetworkError{Op: "get", URL: rawURL, Err: err}
	}
	_, err = hs.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &apperr.NetworkError{Op: "get", URL: rawURL, Err: err}
	}
	return err
}

func (c *Client) getOnce(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	var out *Response
	err := c.guarded(ctx, rawURL, func() error {
		resp, err := c.do(ctx, rawURL, opts)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.Config.MaxBodyBytes))
		if err != nil {
			return &apperr.NetworkError{Op: "read body", URL: rawURL, Status: resp.StatusCode, Err: err}
		}
		if marker := detectChallenge(resp.StatusCode, resp.Header, body); marker != "" {
			return &apperr.ChallengeError{URL: rawURL, Status: resp.StatusCode, Marker: marker}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &apperr.NetworkError{Op: "get", URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("body=%q", snippet(body))}
		}
		out = &Response{
			Status: resp.StatusCode,
			Body:   body,
			Header: resp.Header,
			URL:    resp.Request.URL.String(),
		}
		return nil
	})
	return out, err
}

func (c *Client) do(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &apperr.NetworkError{Op: "build request", URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.Config.UserAgent)
	for k, v := range opts.Headers {
		// net/http only decompresses transparently when it picked the encoding itself.
		if strings.EqualFold(k, "Accept-Encoding") {
			continue
		}
		req.Header.Set(k, v)
	}
	if cookie := cookieHeader(opts.Cookies); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apperr.NetworkError{Op: "get", URL: rawURL, Err: err}
	}
	return resp, nil
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cookies))
	for k := range cookies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+cookies[k])
	}
	return strings.Join(parts, "; ")
}

func snippet(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
