// Package fetcher performs HTTP GETs with bounded linear-backoff retries and
// optional upstream proxy support.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/maltedev/stall-scraper/internal/metrics"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultTimeout    = 30 * time.Second
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxTextBytes   = 10 << 20
	maxBinaryBytes = 32 << 20
)

// Fetcher issues GET requests and retries transient failures.
type Fetcher struct {
	client     *http.Client
	proxy      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	userAgent  string
	// Bodies larger than these limits are rejected, never truncated.
	maxText   int64
	maxBinary int64
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithProxy routes every request through the given proxy URL.
func WithProxy(proxy string) Option {
	return func(f *Fetcher) { f.proxy = proxy }
}

// WithMaxRetries sets how many retries follow the initial attempt.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay; retry N waits N times this value.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.retryDelay = d
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize caps both text and binary response bodies at n bytes.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxText = n
			f.maxBinary = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithHTTPClient replaces the underlying client. Proxy and timeout options
// are ignored when a client is supplied.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New creates a Fetcher. It fails only when the proxy URL cannot be parsed.
func New(opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		userAgent:  DefaultUserAgent,
		maxText:    maxTextBytes,
		maxBinary:  maxBinaryBytes,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	f.logger = f.logger.With("component", "fetcher")

	if f.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if f.proxy != "" {
			proxyURL, err := url.Parse(f.proxy)
			if err != nil || proxyURL.Host == "" {
				return nil, fmt.Errorf("invalid proxy url %q", f.proxy)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		f.client = &http.Client{
			Timeout:   f.timeout,
			Transport: transport,
		}
	}

	return f, nil
}

// FetchText returns the response body of url as a string.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	body, err := f.fetch(ctx, url, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", f.maxText)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBytes returns the raw response body of url.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return f.fetch(ctx, url, "image/avif,image/webp,image/*,*/*;q=0.8", f.maxBinary)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL, accept string, limit int64) ([]byte, error) {
	attempts := f.maxRetries + 1
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := f.retryDelay * time.Duration(attempt-1)
			f.logger.WarnContext(ctx, "retrying request",
				"url", rawURL,
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff_ms", wait.Milliseconds(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &Error{URL: rawURL, StatusCode: lastStatus, Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		body, status, err := f.do(ctx, rawURL, accept, limit)
		if err == nil {
			metrics.FetchAttemptsTotal.WithLabelValues("success").Inc()
			return body, nil
		}
		lastErr = err
		lastStatus = status

		if ctx.Err() != nil {
			metrics.FetchAttemptsTotal.WithLabelValues("failure").Inc()
			return nil, &Error{URL: rawURL, StatusCode: status, Attempts: attempt, Err: ctx.Err()}
		}

		if !shouldRetry(status) || attempt == attempts {
			metrics.FetchAttemptsTotal.WithLabelValues("failure").Inc()
			return nil, &Error{URL: rawURL, StatusCode: status, Attempts: attempt, Err: err}
		}
		metrics.FetchAttemptsTotal.WithLabelValues("retry").Inc()
	}

	// Unreachable: the loop always returns on its final attempt.
	return nil, &Error{URL: rawURL, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

// do performs a single attempt. A zero status means no response was received.
func (f *Fetcher) do(ctx context.Context, rawURL, accept string, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		// A truncated body counts as no usable response.
		return nil, 0, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > limit {
		// A 2xx status makes this terminal in fetch.
		return nil, resp.StatusCode, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	f.logger.Debug("fetched", "url", rawURL, "status", resp.StatusCode, "size", len(body))
	return body, resp.StatusCode, nil
}

// shouldRetry reports whether a failed attempt with the given status may be
// retried. Status 0 means the transport produced no response.
func shouldRetry(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500 && status <= 599:
		return true
	default:
		return false
	}
}

var (
	// ErrFetchFailed matches every error returned by FetchText and FetchBytes.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrBodyTooLarge is wrapped when a response exceeds the body size limit.
	ErrBodyTooLarge = errors.New("response body too large")
)

// Error describes a fetch that exhausted its retries or hit a terminal status.
type Error struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch failed for %s after %d attempt(s): status %d: %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch failed for %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrFetchFailed }
