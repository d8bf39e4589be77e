package stt

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voxrelay/voxrelay/pkg/audio"
)

// RetryConfig bounds the per-utterance transcription policy.
type RetryConfig struct {
	// Timeout applies to each individual attempt. Defaults to 10s.
	Timeout time.Duration

	// Attempts is the number of additional tries after the first
	// failure. Defaults to 1.
	Attempts int

	// Backoff is the base of the exponential backoff between tries.
	// Defaults to 250ms.
	Backoff time.Duration
}

type retryTranscriber struct {
	inner Transcriber
	cfg   RetryConfig
}

// WithRetry wraps t with a bounded per-attempt timeout and a single
// backed-off retry on transport failure. ErrNoSpeech and context
// cancellation pass through without retrying.
func WithRetry(t Transcriber, cfg RetryConfig) Transcriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &retryTranscriber{inner: t, cfg: cfg}
}

func (r *retryTranscriber) Name() string { return r.inner.Name() }

func (r *retryTranscriber) Transcribe(ctx context.Context, u *audio.Utterance) (Result, error) {
	var out Result
	b := retry.WithMaxRetries(uint64(r.cfg.Attempts), retry.NewExponential(r.cfg.Backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		res, err := r.inner.Transcribe(actx, u)
		if err == nil {
			out = res
			return nil
		}
		if errors.Is(err, ErrNoSpeech) || errors.Is(err, context.Canceled) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}
