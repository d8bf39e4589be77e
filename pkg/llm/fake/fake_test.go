package fake

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

func drain(t *testing.T, s llm.Stream) []llm.Chunk {
	t.Helper()
	var out []llm.Chunk
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, c)
	}
}

func TestProvider_EchoesLastUserMessage(t *testing.T) {
	p := NewProvider()

	s, err := p.Stream(context.Background(), &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Text: "first"},
			{Role: llm.RoleAssistant, Text: "reply"},
			{Role: llm.RoleUser, Text: "second"},
		},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunks := drain(t, s)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want a multi-chunk stream", len(chunks))
	}
	final := chunks[len(chunks)-1].Text
	if !strings.Contains(final, `"second"`) {
		t.Fatalf("final text %q does not echo the last user message", final)
	}
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Delta)
	}
	if rebuilt.String() != final {
		t.Fatalf("deltas rebuild %q, cumulative text %q", rebuilt.String(), final)
	}
}

func TestProvider_StreamFnOverrides(t *testing.T) {
	want := errors.New("scripted failure")
	p := &Provider{
		StreamFn: func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
			return nil, want
		},
	}

	if _, err := p.Stream(context.Background(), &llm.Request{}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want scripted failure", err)
	}
}

func TestStream_ErrTerminatesAfterChunks(t *testing.T) {
	want := errors.New("mid-stream failure")
	s := NewStream("a", "b")
	s.Err = want

	if c, err := s.Next(); err != nil || c.Delta != "a" {
		t.Fatalf("first Next = %+v, %v", c, err)
	}
	if c, err := s.Next(); err != nil || c.Text != "ab" {
		t.Fatalf("second Next = %+v, %v", c, err)
	}
	if _, err := s.Next(); !errors.Is(err, want) {
		t.Fatalf("terminal err = %v, want mid-stream failure", err)
	}
}
