// Package gemini adapts the Google Gemini API to the relay's
// streaming generation contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

const providerName = "gemini"

// Config carries the Gemini connection settings.
type Config struct {
	APIKey string
	Model  string
}

// Provider streams generations from the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Provider{client: client, model: cfg.Model}, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	contents := convMessages(req)
	if len(contents) == 0 {
		return nil, &llm.Error{Type: llm.ErrInvalidRequest, Provider: providerName, Message: "empty conversation"}
	}
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.System)}}
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctx, model, contents, cfg))
	return &stream{next: next, stop: stop}, nil
}

func convMessages(req *llm.Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(m.Text)},
		})
	}
	return out
}

type stream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
	text strings.Builder
	done bool
}

func (s *stream) Next() (llm.Chunk, error) {
	if s.done {
		return llm.Chunk{}, io.EOF
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return llm.Chunk{}, io.EOF
		}
		if err != nil {
			s.done = true
			return llm.Chunk{}, convError(err)
		}
		if resp == nil || len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		var sb strings.Builder
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				sb.WriteString(part.Text)
			}
		}
		delta := sb.String()
		if delta != "" {
			s.text.WriteString(delta)
		}

		switch cand.FinishReason {
		case "", genai.FinishReasonUnspecified:
			if delta == "" {
				continue
			}
			return llm.Chunk{Delta: delta, Text: s.text.String()}, nil
		case genai.FinishReasonStop, genai.FinishReasonMaxTokens:
			s.done = true
			if delta == "" {
				return llm.Chunk{}, io.EOF
			}
			return llm.Chunk{Delta: delta, Text: s.text.String()}, nil
		case genai.FinishReasonSafety:
			s.done = true
			return llm.Chunk{}, llm.NewContentFilterError(providerName, "response blocked by safety filter")
		default:
			s.done = true
			return llm.Chunk{}, llm.NewAPIError(providerName, fmt.Sprintf("unexpected finish reason: %s", cand.FinishReason))
		}
	}
}

func (s *stream) Close() error {
	s.done = true
	s.stop()
	return nil
}

func convError(err error) error {
	var terr *llm.Error
	if errors.As(err, &terr) {
		return terr
	}
	return llm.NewAPIError(providerName, err.Error())
}
