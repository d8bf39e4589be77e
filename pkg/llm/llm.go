// Package llm defines the streaming text generation contract used by
// the relay and the registry the server selects backends from.
package llm

import (
	"context"
	"sort"
	"sync"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation context sent to a backend.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Request describes one generation call. Messages holds the ordered
// conversation window; the final entry is the user turn to respond to.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Chunk is one increment of a streamed response. Delta is the text new
// in this step and Text the accumulated response including it, so
// consumers never re-assemble from scratch.
type Chunk struct {
	Delta string
	Text  string
}

// Stream is an ordered pull iterator over response chunks.
//
// Next returns io.EOF after the final chunk; any other error means the
// stream failed and no further chunks will be produced. Close releases
// the underlying connection once the consumer is done pulling.
// Aborting an in-flight generation goes through the request context,
// not Close: Next and Close must be called from a single goroutine.
type Stream interface {
	Next() (Chunk, error)
	Close() error
}

// Provider is a streaming generation backend.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Registry holds configured providers keyed by name. Registration
// happens at startup; lookups may run concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns the registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
