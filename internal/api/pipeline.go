// Package api provides the resilient request pipeline used for every Web API call:
// bearer-token injection, rate-limit tracking, retry with backoff and per-channel cancellation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"playdeck/internal/core"
)

// Channel groups logically equivalent requests. At most one request per
// non-empty channel is in flight; starting a new one cancels the previous.
type Channel string

const (
	// ChannelNone opts out of supersession.
	ChannelNone Channel = ""
	// ChannelSearch carries search-as-you-type requests.
	ChannelSearch Channel = "search"
	// ChannelStatePoll carries the playback poller's requests.
	ChannelStatePoll Channel = "state-poll"
)

// Request describes one logical call. Body, when non-nil, is sent as JSON.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     any
	Channel  Channel
}

// Observer receives pipeline measurements.
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
	ObserveRetry(kind Kind)
	ObserveRateLimitWait(wait time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}
func (nopObserver) ObserveRetry(Kind)                         {}
func (nopObserver) ObserveRateLimitWait(time.Duration)        {}

type Options struct {
	BaseURL       string
	MaxRetries    int
	BackoffDelays []time.Duration
	HTTPClient    *http.Client
	Observer      Observer
}

// OptionsFromConfig maps the pipeline section of the config.
func OptionsFromConfig(cfg *core.Config) Options {
	return Options{
		BaseURL:       cfg.Spotify.BaseURL,
		MaxRetries:    cfg.Pipeline.MaxRetries,
		BackoffDelays: cfg.Pipeline.BackoffDelays,
		HTTPClient:    &http.Client{Timeout: cfg.Pipeline.RequestTimeout},
	}
}

type inflight struct {
	seq    uint64
	cancel context.CancelFunc
}

type Pipeline struct {
	baseURL    string
	httpClient *http.Client
	tokens     core.TokenProvider
	logger     *zap.Logger
	maxRetries int
	delays     []time.Duration
	observer   Observer
	window     RateLimitWindow

	mu       sync.Mutex
	seq      uint64
	channels map[Channel]inflight
}

func NewPipeline(tokens core.TokenProvider, opts Options, logger *zap.Logger) *Pipeline {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if len(opts.BackoffDelays) == 0 {
		opts.BackoffDelays = core.DefaultBackoffDelays()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Pipeline{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		tokens:     tokens,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		delays:     opts.BackoffDelays,
		observer:   opts.Observer,
		channels:   make(map[Channel]inflight),
	}
}

// RateLimit exposes the tracked window.
func (p *Pipeline) RateLimit() *RateLimitWindow {
	return &p.window
}

// Execute performs req, retrying 429s after Retry-After and 5xx or network
// failures along the backoff sequence until the retry budget is spent.
// Cancellation (ctx or a newer request on the same channel) is checked at
// every retry boundary and yields ErrCancelled.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Response, error) {
	ctx, release := p.claim(ctx, req.Channel)
	defer release()

	logger := p.logger.With(
		zap.String("requestID", uuid.NewString()),
		zap.String("method", req.Method),
		zap.String("endpoint", req.Endpoint))

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	var lastErr *Error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay(lastErr, attempt)
			p.observer.ObserveRetry(lastErr.Kind)
			logger.Debug("Retrying request",
				zap.Int("attempt", attempt+1),
				zap.Stringer("reason", lastErr.Kind),
				zap.Duration("delay", delay))
			if err := sleep(ctx, delay); err != nil {
				return nil, p.cancelledErr(logger, err)
			}
		}

		if wait := p.window.WaitDuration(time.Now()); wait > 0 {
			p.observer.ObserveRateLimitWait(wait)
			logger.Debug("Rate limit budget spent, waiting for reset", zap.Duration("wait", wait))
			if err := sleep(ctx, wait); err != nil {
				return nil, p.cancelledErr(logger, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, p.cancelledErr(logger, err)
		}

		resp, apiErr := p.do(ctx, req, body)
		if apiErr == nil {
			return resp, nil
		}
		if apiErr.Kind == KindCancelled {
			logger.Debug("Request cancelled")
			return nil, apiErr
		}
		if !apiErr.Retryable() {
			logger.Debug("Request failed", zap.Error(apiErr))
			return nil, apiErr
		}
		lastErr = apiErr
	}

	logger.Warn("Request failed after exhausting retries",
		zap.Int("attempts", p.maxRetries+1),
		zap.Error(lastErr))
	return nil, lastErr
}

// claim registers the request on its channel, cancelling the one it supersedes.
func (p *Pipeline) claim(ctx context.Context, ch Channel) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if ch == ChannelNone {
		return ctx, cancel
	}

	p.mu.Lock()
	p.seq++
	seq := p.seq
	if prev, ok := p.channels[ch]; ok {
		prev.cancel()
	}
	p.channels[ch] = inflight{seq: seq, cancel: cancel}
	p.mu.Unlock()

	return ctx, func() {
		p.mu.Lock()
		if cur, ok := p.channels[ch]; ok && cur.seq == seq {
			delete(p.channels, ch)
		}
		p.mu.Unlock()
		cancel()
	}
}

func (p *Pipeline) retryDelay(lastErr *Error, attempt int) time.Duration {
	if lastErr.Kind == KindRateLimited && lastErr.RetryAfter > 0 {
		return lastErr.RetryAfter
	}
	idx := attempt - 1
	if idx >= len(p.delays) {
		idx = len(p.delays) - 1
	}
	return p.delays[idx]
}

func (p *Pipeline) cancelledErr(logger *zap.Logger, err error) *Error {
	logger.Debug("Request cancelled")
	return cancelled(err)
}

func (p *Pipeline) do(ctx context.Context, req Request, body []byte) (*Response, *Error) {
	token, err := p.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, &Error{Kind: KindAuthUnavailable, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, p.url(req), bodyReader(body))
	if err != nil {
		return nil, &Error{Kind: KindClientError, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		p.observer.ObserveRequest(req.Method, 0, time.Since(start))
		return nil, &Error{Kind: KindNetworkError, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, &Error{Kind: KindNetworkError, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	now := time.Now()
	p.window.Update(resp.Header, now)
	p.observer.ObserveRequest(req.Method, resp.StatusCode, now.Sub(start))

	// a superseded request never hands its response to the caller
	if ctx.Err() != nil {
		return nil, cancelled(ctx.Err())
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return newResponse(resp, raw), nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
		}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindServerError, Status: resp.StatusCode, Body: string(raw)}
	default:
		return nil, &Error{Kind: KindClientError, Status: resp.StatusCode, Body: string(raw)}
	}
}

func (p *Pipeline) url(req Request) string {
	u := p.baseURL + "/" + strings.TrimLeft(req.Endpoint, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return http.NoBody
	}
	return bytes.NewReader(body)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
