package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Common errors. A *StatusError matches the sentinel for its status code
// with errors.Is.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrRedirect     = errors.New("http: redirected")
	ErrServerError  = errors.New("http: server error")
)

// StatusError is returned by Open when the server answers with anything
// other than 200 or 206.
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status %s for %s", e.Status, e.URL)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrRedirect:
		return e.Code >= 300 && e.Code < 400
	case ErrServerError:
		return e.Code >= 500
	}
	return false
}

// Doer sends a request. *http.Client satisfies it, which lets authenticated
// clients from a credential provider be passed to Open.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// DialTimeout bounds connection establishment.
	// Default: 30s
	DialTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request is written. The body itself has no deadline.
	// Default: 30s
	ResponseHeaderTimeout time.Duration

	// ConnectionClose sends "Connection: close" so every transfer uses a
	// fresh connection.
	ConnectionClose bool

	// UserAgent is sent with every request when set.
	UserAgent string

	// RetryAttempts is the maximum number of retries after a transport
	// error. Status codes are never retried.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost:   16,
		DialTimeout:           30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RetryAttempts:         3,
		RetryBackoff:          time.Second,
		RetryMaxBackoff:       30 * time.Second,
	}
}

// Response is an open download stream.
type Response struct {
	// Body yields the decoded payload. Closing it closes any decoder and
	// releases the connection.
	Body io.ReadCloser

	StatusCode int

	// ContentLength is the number of payload bytes Body will yield, or -1
	// when unknown (including whenever the body was content-encoded).
	ContentLength int64

	// TotalSize is the full size of the resource, or -1 when unknown.
	TotalSize int64

	// Partial reports whether Body starts at the requested offset. It is
	// false when the server ignored the Range header and sent the whole
	// resource.
	Partial bool

	// Encoding is the content encoding that was decoded, if any.
	Encoding string
}

// Client is an HTTP client for long-running streaming downloads.
type Client struct {
	client    *http.Client
	transport *http.Transport
	opts      Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   opts.DialTimeout,
		DisableCompression:    true, // Decoding is done in Open so resumed ranges stay raw
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		transport: transport,
		opts:      opts,
	}
}

// Transport returns the underlying transport so that authenticated clients
// can share its connection pool.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// Open issues a GET for url starting at offset. A nil doer sends the request
// anonymously through the client's own pool. Redirects are reported as
// status errors rather than followed.
//
// Fresh requests (offset 0) advertise gzip and zstd and are decoded
// transparently. Resumed requests ask for the identity encoding so that the
// byte offset refers to the stored file.
func (c *Client) Open(ctx context.Context, doer Doer, url string, offset int64) (*Response, error) {
	if doer == nil {
		doer = c.client
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
			req.Header.Set("Accept-Encoding", "identity")
		} else {
			req.Header.Set("Accept-Encoding", "gzip, zstd")
		}
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}
		req.Close = c.opts.ConnectionClose

		resp, err := doer.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
			if total, ok := unsatisfiedTotal(resp.Header.Get("Content-Range")); ok && total == offset {
				resp.Body.Close()
				return &Response{Body: http.NoBody, StatusCode: resp.StatusCode, TotalSize: total, Partial: true}, nil
			}
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: url}
		}

		return newResponse(resp, offset)
	}

	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

func newResponse(resp *http.Response, offset int64) (*Response, error) {
	r := &Response{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		TotalSize:     -1,
	}

	if resp.StatusCode == http.StatusPartialContent {
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start != offset {
			resp.Body.Close()
			return nil, fmt.Errorf("http: bad Content-Range %q for offset %d", resp.Header.Get("Content-Range"), offset)
		}
		r.Partial = true
		r.TotalSize = total
	} else {
		r.Partial = offset == 0
		r.TotalSize = resp.ContentLength
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return r, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("http: gzip reader: %w", err)
		}
		r.Body = &decodedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("http: zstd reader: %w", err)
		}
		dec := zr.IOReadCloser()
		r.Body = &decodedBody{Reader: dec, closers: []io.Closer{dec, resp.Body}}
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("http: unsupported content encoding %q", encoding)
	}

	r.Encoding = encoding
	r.ContentLength = -1
	r.TotalSize = -1
	return r, nil
}

// decodedBody closes the decoder before the raw body underneath it.
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// unsatisfiedTotal reads the resource size from the "bytes */N" form of
// Content-Range sent with a 416 response.
func unsatisfiedTotal(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes */")
	if !ok {
		return 0, false
	}
	total, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
