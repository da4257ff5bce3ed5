// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the search providers and
// the oracle client.
package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdiddy/novelty-engine/internal/backoff"
)

// RetryBaseDelay scales the exponential backoff between attempts: the n-th
// retry waits 2^n * RetryBaseDelay plus jitter. Tests override this to avoid
// real sleeps.
var RetryBaseDelay = time.Second

const defaultMaxRetries = 5

var errRateLimited = errors.New("rate limited (HTTP 429)")

// RetryOptions tunes DoWithRetry. The zero value retries five times.
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt (default 5).
	MaxRetries int

	// Name labels log records, e.g. "openalex".
	Name string

	// Before runs ahead of every attempt, including retries. Providers with a
	// strict request spacing pass their limiter's Wait here.
	Before func(ctx context.Context) error

	// Logger receives one record per retried attempt.
	Logger *slog.Logger
}

// DoWithRetry executes an HTTP request and retries on HTTP 429 (Too Many
// Requests) and on transport errors, with exponential backoff and jitter.
//
// Any other status is returned to the caller on the first attempt. After
// exhausting retries on 429 the last 429 response is returned so the caller
// can inspect it; after exhausting retries on transport errors the last
// error is returned. If the context is cancelled during a wait the function
// returns ctx.Err(). Request bodies are replayed through req.GetBody.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, opts RetryOptions) (*http.Response, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if client == nil {
		client = http.DefaultClient
	}
	name := opts.Name
	if name == "" {
		name = req.URL.Host
	}

	policy := backoff.Policy{
		MaxAttempts: maxRetries + 1,
		Base:        2,
		Unit:        RetryBaseDelay,
		Jitter:      RetryBaseDelay,
		Logger:      opts.Logger,
	}

	var last *http.Response
	err := backoff.Retry(ctx, name, policy, func(ctx context.Context) error {
		if opts.Before != nil {
			if err := opts.Before(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(attemptReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			last = resp
			return nil
		}

		// Keep a readable copy of the 429 in case this was the last attempt.
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		last = resp
		return errRateLimited
	})
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errRateLimited) && last != nil:
		return last, nil
	default:
		return nil, err
	}
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}
