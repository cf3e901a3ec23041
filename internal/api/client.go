// Package api implements the remote-call layer every fetch funnels
// through: a single logical request type against the social-graph API,
// bounded by a process-wide in-flight limiter, with a fixed per-call
// timeout and indefinite jittered backoff on transport failures and
// rate limiting.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
)

// maxBackoffSteps caps the linear backoff growth: attempt n sleeps
// min(n, maxBackoffSteps) seconds before jitter.
const maxBackoffSteps = 5

// maxDecodeFailures bounds retries of responses whose body is not a
// valid envelope. Transport errors and 429s retry forever; garbage
// payloads do not.
const maxDecodeFailures = 3

// Params holds query parameters for one call. Nil values are dropped
// before the request is built; the API distinguishes omitted parameters
// from explicit zero values.
type Params map[string]any

// Options configures a Client.
type Options struct {
	// BaseURL is the versioned API root, e.g. https://api.data365.co/v1.1.
	BaseURL string
	// AccessToken is appended to every request.
	AccessToken string
	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration
	// MaxInFlight bounds simultaneous calls process-wide.
	MaxInFlight int64
	// RequestsPerSecond optionally smooths the request rate on top of the
	// in-flight cap. Zero disables smoothing.
	RequestsPerSecond float64
	// PageSize is the max_page_size sent on collection requests.
	PageSize int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues calls against the remote API. All methods are safe for
// concurrent use; the in-flight semaphore is the primary backpressure
// mechanism against the remote side.
type Client struct {
	baseURL  string
	token    string
	timeout  time.Duration
	pageSize int
	httpc    *http.Client
	sem      *semaphore.Weighted
	qps      *rate.Limiter
	logger   *zap.Logger
}

// New constructs a Client from options, applying defaults for anything
// unset.
func New(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 10
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var qps *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		qps = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.AccessToken,
		timeout:  opts.RequestTimeout,
		pageSize: opts.PageSize,
		httpc:    opts.HTTPClient,
		sem:      semaphore.NewWeighted(opts.MaxInFlight),
		qps:      qps,
		logger:   opts.Logger,
	}
}

// GetItem fetches a single item. A NotFoundError response means the item
// no longer exists and is reported as (nil, nil); any other non-ok status
// is returned as a *RequestError.
func (c *Client) GetItem(ctx context.Context, path string, params Params) (map[string]any, error) {
	env, err := c.call(ctx, http.MethodGet, path, params)
	if err != nil {
		return nil, err
	}
	if env.Status == statusFail && env.Error != nil && env.Error.Code == codeNotFound {
		return nil, nil
	}
	if env.Status != statusOK {
		return nil, &RequestError{Operation: "get item", Status: env.Status, Path: path, APIError: env.Error}
	}
	return env.Data, nil
}

// RequestUpdate starts an asynchronous refresh job for the item behind
// path and returns the remote job ID.
func (c *Client) RequestUpdate(ctx context.Context, path string, params Params) (string, error) {
	env, err := c.call(ctx, http.MethodPost, path+"/update", params)
	if err != nil {
		return "", err
	}
	if env.Status != statusAccepted {
		return "", &RequestError{Operation: "request update", Status: env.Status, Path: path, APIError: env.Error}
	}
	taskID, _ := env.Data["task_id"].(string)
	return taskID, nil
}

// UpdateStatus polls the state of a previously requested update job.
// The same params used to start the job must be echoed back.
func (c *Client) UpdateStatus(ctx context.Context, path string, params Params) (string, error) {
	env, err := c.call(ctx, http.MethodGet, path+"/update", params)
	if err != nil {
		return "", err
	}
	if env.Status != statusOK {
		return "", &RequestError{Operation: "get update status", Status: env.Status, Path: path, APIError: env.Error}
	}
	status, _ := env.Data["status"].(string)
	return status, nil
}

// call runs one logical request to completion: it acquires an in-flight
// slot, then retries transport failures and 429 responses forever with
// jittered linear backoff. Only context cancellation or a decoded
// envelope ends the loop.
func (c *Client) call(ctx context.Context, method, path string, params Params) (*Envelope, error) {
	query := buildQuery(params)
	query.Set("access_token", c.token)
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + query.Encode()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}
	defer c.sem.Release(1)
	metrics.IncInFlight()
	defer metrics.DecInFlight()

	decodeFailures := 0
	for attempt := 0; ; attempt++ {
		if c.qps != nil {
			if err := c.qps.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		env, code, err := c.doOnce(ctx, method, fullURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
			}
			// An undecodable body (an intermediary's HTML error page,
			// typically) gets a few retries; a persistently non-JSON
			// endpoint must fail the call, not hang it.
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				decodeFailures++
				if decodeFailures >= maxDecodeFailures {
					return nil, decodeErr
				}
				metrics.CountRetry("decode")
				c.logger.Debug("undecodable response, will retry",
					zap.String("method", method),
					zap.String("path", path),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				break
			}
			// Transport-level hiccup: expected to self-resolve, retry forever.
			metrics.CountRetry("transport")
			c.logger.Debug("transport error, will retry",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		case code == http.StatusTooManyRequests:
			// Rate limiting is flow control, not an error.
			metrics.CountRetry("rate_limited")
			c.logger.Debug("rate limited, will retry",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
			)
		default:
			c.logger.Debug("api call",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("code", code),
				zap.String("status", env.Status),
			)
			return env, nil
		}

		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
}

// doOnce performs a single attempt under the per-call timeout.
func (c *Client) doOnce(ctx context.Context, method, fullURL string) (*Envelope, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, nil
	}

	// UseNumber keeps numeric IDs exact; item IDs routinely exceed
	// float64's integer range.
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, resp.StatusCode, &DecodeError{Path: req.URL.Path, Err: err}
	}
	metrics.ObserveAPIRequest(method, env.Status, time.Since(start))
	return &env, resp.StatusCode, nil
}

// backoffDelay returns the jittered sleep before the next attempt:
// min(attempt, 5) * uniform(0.75, 1.25) seconds. Attempt 0 retries
// immediately.
func backoffDelay(attempt int) time.Duration {
	steps := attempt
	if steps > maxBackoffSteps {
		steps = maxBackoffSteps
	}
	base := time.Duration(steps) * time.Second
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// sleepBackoff waits out the backoff for the attempt, aborting early on
// context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := backoffDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// buildQuery converts params into url.Values, dropping nil values so the
// remote sees them as omitted.
func buildQuery(params Params) url.Values {
	query := url.Values{}
	for key, value := range params {
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			query.Set(key, v)
		case bool:
			if v {
				query.Set(key, "1")
			} else {
				query.Set(key, "0")
			}
		default:
			query.Set(key, fmt.Sprint(v))
		}
	}
	return query
}
