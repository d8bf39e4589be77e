package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig bounds the stream-open retry policy.
type RetryConfig struct {
	// Attempts is the number of additional tries after the first
	// failure. Defaults to 1.
	Attempts int

	// Backoff is the base of the exponential backoff between tries.
	// Defaults to 250ms.
	Backoff time.Duration
}

type retryProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry wraps p so a failed stream open is retried with
// exponential backoff when the failure is retryable. A stream that has
// already produced output is never retried; mid-stream errors pass
// through untouched.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &retryProvider{inner: p, cfg: cfg}
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	var s Stream
	b := retry.WithMaxRetries(uint64(r.cfg.Attempts), retry.NewExponential(r.cfg.Backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		s, err = r.inner.Stream(ctx, req)
		if err == nil {
			return nil
		}
		var terr *Error
		if errors.As(err, &terr) && terr.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
