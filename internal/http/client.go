package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrTimeoutExhausted is returned when every attempt of a request timed out.
var ErrTimeoutExhausted = errors.New("http: maximum retries exceeded")

// Options configures the HTTP client.
type Options struct {
	// Timeout for individual requests.
	// Default: 10m
	Timeout time.Duration

	// RetryAttempts is the maximum number of attempts made when a request
	// times out. Other failures are never retried here.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the fixed part of the wait before a retry.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryJitter is the upper bound of the random part added to RetryBackoff.
	// Default: 2s
	RetryJitter time.Duration

	// RequestsPerSecond paces JSON requests. Zero disables pacing.
	RequestsPerSecond float64

	// UserAgent is sent with every request.
	UserAgent string

	// ProxyURL routes every request through the given proxy. Empty means
	// the proxy from the environment, if any.
	ProxyURL string

	// Logger receives retry diagnostics.
	Logger zerolog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:       10 * time.Minute,
		RetryAttempts: 5,
		RetryBackoff:  time.Second,
		RetryJitter:   2 * time.Second,
		UserAgent:     "m2m-downloader",
		Logger:        zerolog.Nop(),
	}
}

// Client wraps HTTP operations used by the catalog session and the downloader.
//
// Client provides:
//   - JSON POST with a per-request timeout and retry on timeout
//   - Randomized wait before each retry
//   - Optional request pacing
//   - Streamed GET for large archives
//   - In-memory GET for small files such as browse images
//
// Example usage:
//
//	client := NewClient(DefaultOptions())
//
//	// Call a JSON endpoint
//	resp, err := client.PostJSON(ctx, "https://host/api/login", nil, body)
//
//	// Stream a file
//	stream, err := client.Stream(ctx, url)
//	defer stream.Body.Close()
type Client struct {
	httpClient *http.Client
	opts       Options
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new HTTP client with the given options.
// Zero-valued fields fall back to DefaultOptions.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = def.RetryAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.RetryJitter < 0 {
		opts.RetryJitter = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		if u, err := url.Parse(opts.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		} else {
			opts.Logger.Warn().Err(err).Str("proxy", opts.ProxyURL).Msg("ignoring invalid proxy URL")
		}
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:  opts,
		sleep: sleepContext,
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Response is a fully read response to a JSON request.
type Response struct {
	StatusCode int
	Body       []byte
}

// StreamResponse is an open response whose body is read by the caller.
type StreamResponse struct {
	// Body must be closed by the caller.
	Body io.ReadCloser

	// ContentLength is the declared length, or -1 when the server did not send one.
	ContentLength int64

	StatusCode int
}

// PostJSON posts body to url and returns the complete response.
//
// The request is attempted up to RetryAttempts times while it keeps timing
// out. Before each retry the client waits RetryBackoff plus a random share
// of RetryJitter. Any status code is returned to the caller; interpreting it
// is the caller's job.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			wait := c.retryDelay()
			c.opts.Logger.Info().
				Str("url", url).
				Int("retry", attempt-1).
				Int("max_retries", c.opts.RetryAttempts).
				Dur("wait", wait).
				Msg("connection timeout, retrying")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.post(ctx, url, headers, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTimeout(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrTimeoutExhausted, c.opts.RetryAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Stream performs a single GET request and hands the open body to the caller.
//
// The request timeout of the client does not apply to streams, since
// archives can take far longer than any sensible request timeout; use ctx
// to bound them.
//
// Returns an error if the request fails or the status is not 2xx.
func (c *Client) Stream(ctx context.Context, url string) (*StreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return &StreamResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		StatusCode:    resp.StatusCode,
	}, nil
}

// Get performs a GET request and returns the response body as bytes.
//
// Use this for small files like browse images. For archives, use Stream.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: file,
//	    Total:  contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) retryDelay() time.Duration {
	d := c.opts.RetryBackoff
	if c.opts.RetryJitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.opts.RetryJitter)))
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
