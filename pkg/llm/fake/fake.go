// Package fake provides a scripted generation backend. It backs tests
// and lets the relay run end to end without any provider credentials.
package fake

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

const providerName = "fake"

// Provider satisfies llm.Provider with canned responses. The zero
// behavior echoes the last user message; StreamFn overrides it.
type Provider struct {
	// StreamFn, when set, handles every Stream call.
	StreamFn func(ctx context.Context, req *llm.Request) (llm.Stream, error)
}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if p.StreamFn != nil {
		return p.StreamFn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewStream(cannedDeltas(req)...), nil
}

func cannedDeltas(req *llm.Request) []string {
	last := ""
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			last = m.Text
		}
	}
	reply := "I did not catch a message."
	if last != "" {
		reply = fmt.Sprintf("You said: %q. This is a canned reply; configure a provider key for real responses.", last)
	}
	words := strings.Fields(reply)
	deltas := make([]string, 0, len(words))
	for i, w := range words {
		if i == 0 {
			deltas = append(deltas, w)
			continue
		}
		deltas = append(deltas, " "+w)
	}
	return deltas
}

// Stream replays a fixed chunk sequence. After the chunks drain it
// returns Err when set, io.EOF otherwise.
type Stream struct {
	chunks []llm.Chunk
	idx    int

	// Err terminates the stream in place of io.EOF.
	Err error
}

// NewStream builds a stream from incremental deltas, accumulating the
// cumulative text the way real providers do.
func NewStream(deltas ...string) *Stream {
	chunks := make([]llm.Chunk, 0, len(deltas))
	var text strings.Builder
	for _, d := range deltas {
		text.WriteString(d)
		chunks = append(chunks, llm.Chunk{Delta: d, Text: text.String()})
	}
	return &Stream{chunks: chunks}
}

func (s *Stream) Next() (llm.Chunk, error) {
	if s.idx >= len(s.chunks) {
		if s.Err != nil {
			return llm.Chunk{}, s.Err
		}
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *Stream) Close() error { return nil }
