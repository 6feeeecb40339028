// Package fetch implements domain.Fetcher with resty.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options configures the HTTP client.
type Options struct {
	// Timeout bounds a whole Get, and only the wait for response headers
	// on a Stream so long asset bodies are not cut off.
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// Client fetches pages and assets over HTTP.
type Client struct {
	rc      *resty.Client
	timeout time.Duration
}

// New creates a client. Transport errors and 5xx/429 responses are retried.
func New(opts Options) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.Timeout

	rc := resty.New().
		SetTransport(transport).
		SetRetryCount(opts.RetryCount).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if opts.RetryWait > 0 {
		rc.SetRetryWaitTime(opts.RetryWait)
	}
	if opts.RetryMaxWait > 0 {
		rc.SetRetryMaxWaitTime(opts.RetryMaxWait)
	}
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	return &Client{rc: rc, timeout: opts.Timeout}
}

// Get returns the response body of url.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.rc.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, &StatusError{URL: url, Code: resp.StatusCode()}
	}
	return resp.Body(), nil
}

// Stream returns the unread response body of url. The caller must close it.
func (c *Client) Stream(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.rc.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	body := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		if body != nil {
			body.Close()
		}
		return nil, &StatusError{URL: url, Code: resp.StatusCode()}
	}
	return body, nil
}
