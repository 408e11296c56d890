// Package wirechat is a Remote Store backed by a wirechat server's HTTP API and WebSocket change feed.
package wirechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/metrics"
	"github.com/vovakirdan/wirechat-client/internal/proto"
	"github.com/vovakirdan/wirechat-client/internal/remote"
)

// Config holds client settings.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	// ReconnectBackoff is the delay before each change feed reconnect attempt.
	// The last entry repeats. Empty means the default schedule.
	ReconnectBackoff []time.Duration
}

var defaultReconnectBackoff = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

// Client talks to one wirechat backend.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	backoff []time.Duration
	tokens  *auth.TokenFile
	log     *zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	session *auth.Session
}

var _ remote.Backend = (*Client)(nil)

// New creates a client. tokens may be nil, in which case sessions live only in memory.
func New(cfg Config, tokens *auth.TokenFile, logger *zerolog.Logger, m *metrics.Metrics) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote base url must be http or https, got %q", cfg.BaseURL)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backoff := cfg.ReconnectBackoff
	if len(backoff) == 0 {
		backoff = defaultReconnectBackoff
	}

	return &Client{
		base:    base,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		backoff: append([]time.Duration(nil), backoff...),
		tokens:  tokens,
		log:     logger,
		metrics: m,
		now:     time.Now,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) token() string {
	s, err := c.Session(context.Background())
	if err != nil {
		return ""
	}
	return s.Token
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	write       bool
}

func (c *Client) jsonRequest(op, method, path string, in any, write bool) (request, error) {
	r := request{op: op, method: method, path: path, write: write}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return request{}, fmt.Errorf("encode %s request: %w", op, err)
		}
		r.body = bytes.NewReader(body)
		r.contentType = "application/json"
	}
	return r, nil
}

// do sends r and decodes a 2xx JSON body into out. Failures are mapped onto the remote error taxonomy.
func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	defer func() { c.metrics.RemoteOp(r.op, err) }()

	failed := remote.ErrQueryFailed
	if r.write {
		failed = remote.ErrWriteFailed
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: throttle: %w", failed, r.op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		return fmt.Errorf("%w: %s: build request: %w", failed, r.op, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", failed, r.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body proto.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
		msg := body.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s: %s", remote.ErrNotAuthenticated, r.op, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w: %s: %s", failed, remote.ErrNotFound, r.op, msg)
		case http.StatusConflict:
			return fmt.Errorf("%w: %w: %s: %s", failed, remote.ErrAlreadyExists, r.op, msg)
		default:
			return fmt.Errorf("%w: %s: status %d: %s", failed, r.op, resp.StatusCode, msg)
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %s: decode response: %w", failed, r.op, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	r, err := c.jsonRequest(op, http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	return c.do(ctx, r, out)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, in, out any) error {
	r, err := c.jsonRequest(op, method, path, in, true)
	if err != nil {
		return err
	}
	return c.do(ctx, r, out)
}
