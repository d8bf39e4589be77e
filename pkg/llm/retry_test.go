package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type fakeStream struct {
	chunks []Chunk
	i      int
}

func (s *fakeStream) Next() (Chunk, error) {
	if s.i >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeProvider fails the nth Stream call with errs[n] and succeeds
// once the errs slice is exhausted or holds nil.
type fakeProvider struct {
	calls  int
	errs   []error
	onCall func()
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	i := p.calls
	p.calls++
	if p.onCall != nil {
		p.onCall()
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	return &fakeStream{chunks: []Chunk{{Delta: "ok", Text: "ok"}}}, nil
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	p := &fakeProvider{errs: []error{NewAPIError("fake", "transient"), nil}}
	rp := WithRetry(p, RetryConfig{Backoff: time.Millisecond})

	s, err := rp.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
	c, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if c.Delta != "ok" {
		t.Fatalf("Delta = %q, want %q", c.Delta, "ok")
	}
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	p := &fakeProvider{errs: []error{&Error{Type: ErrAuthentication, Message: "bad key"}}}
	rp := WithRetry(p, RetryConfig{Backoff: time.Millisecond})

	_, err := rp.Stream(context.Background(), &Request{})
	if err == nil {
		t.Fatal("Stream succeeded, want authentication error")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1", p.calls)
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Type != ErrAuthentication {
		t.Fatalf("err = %v, want authentication_error", err)
	}
}

func TestWithRetryGivesUpAfterConfiguredAttempts(t *testing.T) {
	p := &fakeProvider{errs: []error{
		NewAPIError("fake", "first"),
		NewAPIError("fake", "second"),
		nil,
	}}
	rp := WithRetry(p, RetryConfig{Attempts: 1, Backoff: time.Millisecond})

	_, err := rp.Stream(context.Background(), &Request{})
	if err == nil {
		t.Fatal("Stream succeeded, want exhausted retries")
	}
	if p.calls != 2 {
		t.Fatalf("calls = %d, want 2", p.calls)
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Message != "second" {
		t.Fatalf("err = %v, want the final attempt's error", err)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProvider{errs: []error{NewAPIError("fake", "transient"), nil}}
	p.onCall = cancel
	rp := WithRetry(p, RetryConfig{Backoff: time.Minute})

	_, err := rp.Stream(ctx, &Request{})
	if err == nil {
		t.Fatal("Stream succeeded with cancelled context")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry after cancel)", p.calls)
	}
}

func TestWithRetryKeepsProviderName(t *testing.T) {
	rp := WithRetry(&fakeProvider{}, RetryConfig{})
	if rp.Name() != "fake" {
		t.Fatalf("Name() = %q, want %q", rp.Name(), "fake")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("fake"); ok {
		t.Fatal("Get on empty registry returned a provider")
	}
	r.Register(&fakeProvider{})
	p, ok := r.Get("fake")
	if !ok || p.Name() != "fake" {
		t.Fatalf("Get(fake) = %v, %v", p, ok)
	}
	if got := r.List(); len(got) != 1 || got[0] != "fake" {
		t.Fatalf("List() = %v, want [fake]", got)
	}
}
