// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the HTTP helpers shared by the source adapters.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxBodyBytes bounds how much of a response body is read.
const MaxBodyBytes = 4 << 20

// ErrMalformed marks a response body that could not be decoded.
var ErrMalformed = errors.New("malformed response")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	// Body is the first part of the response body, for logging.
	Body string
	// RetryAfter is parsed from the Retry-After header when present.
	RetryAfter time.Duration
	// RateLimitExhausted is set when the server signalled an exhausted
	// quota through headers (e.g. X-RateLimit-Remaining: 0).
	RateLimitExhausted bool
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Quota reports whether the response means the caller's quota is spent.
func (e *StatusError) Quota() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.RateLimitExhausted
}

// IsQuota reports whether err is a StatusError signalling an exhausted quota.
func IsQuota(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Quota()
}

// Get issues a GET with the given headers and returns the body of a 2xx
// response. Non-2xx responses become *StatusError.
func Get(ctx context.Context, client *http.Client, rawURL string, header http.Header) ([]byte, error) {
	body, _, err := Fetch(ctx, client, rawURL, header)
	return body, err
}

// Fetch is Get that also returns the response headers.
func Fetch(ctx context.Context, client *http.Client, rawURL string, header http.Header) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("reading body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.Header, newStatusError(resp, body)
	}
	return body, resp.Header, nil
}

// GetJSON issues a GET and decodes a 2xx JSON body into out. Decoding
// failures wrap ErrMalformed.
func GetJSON(ctx context.Context, client *http.Client, rawURL string, header http.Header, out any) error {
	body, err := Get(ctx, client, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Body:       truncate(strings.TrimSpace(string(body)), 200),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		se.RateLimitExhausted = true
	}
	return se
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
