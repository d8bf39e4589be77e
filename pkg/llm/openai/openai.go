// Package openai adapts the OpenAI chat completions API to the
// relay's streaming generation contract.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

const providerName = "openai"

const (
	finishReasonStop          = "stop"
	finishReasonLength        = "length"
	finishReasonContentFilter = "content_filter"
)

// Config carries the OpenAI connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Provider streams chat completions from the OpenAI API or any
// compatible endpoint reachable through BaseURL.
type Provider struct {
	client *openai.Client
	model  string
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Provider{client: &client, model: cfg.Model}, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: convMessages(req),
	}
	if req.Model != "" {
		params.Model = req.Model
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	inner := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := inner.Err(); err != nil {
		return nil, convError(err)
	}
	return &stream{inner: inner}, nil
}

func convMessages(req *llm.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}

type stream struct {
	inner *ssestream.Stream[openai.ChatCompletionChunk]
	text  strings.Builder
	done  bool
}

func (s *stream) Next() (llm.Chunk, error) {
	if s.done {
		return llm.Chunk{}, io.EOF
	}
	for s.inner.Next() {
		current := s.inner.Current()
		if len(current.Choices) == 0 {
			continue
		}
		choice := current.Choices[0]
		switch choice.FinishReason {
		case finishReasonContentFilter:
			s.done = true
			return llm.Chunk{}, llm.NewContentFilterError(providerName, "response blocked by content filter")
		case finishReasonStop, finishReasonLength:
			s.done = true
			if choice.Delta.Content == "" {
				return llm.Chunk{}, io.EOF
			}
			s.text.WriteString(choice.Delta.Content)
			return llm.Chunk{Delta: choice.Delta.Content, Text: s.text.String()}, nil
		}
		if choice.Delta.Content == "" {
			continue
		}
		s.text.WriteString(choice.Delta.Content)
		return llm.Chunk{Delta: choice.Delta.Content, Text: s.text.String()}, nil
	}
	s.done = true
	if err := s.inner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return llm.Chunk{}, convError(err)
	}
	return llm.Chunk{}, io.EOF
}

func (s *stream) Close() error {
	return s.inner.Close()
}

func convError(err error) error {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return llm.NewAPIError(providerName, err.Error())
	}
	e := &llm.Error{
		Type:     llm.ErrAPI,
		Provider: providerName,
		Message:  apierr.Message,
		Code:     apierr.Code,
	}
	switch {
	case apierr.StatusCode == 401 || apierr.StatusCode == 403:
		e.Type = llm.ErrAuthentication
	case apierr.StatusCode == 400 || apierr.StatusCode == 404:
		e.Type = llm.ErrInvalidRequest
	case apierr.StatusCode == 429:
		e.Type = llm.ErrRateLimit
	case apierr.StatusCode >= 500:
		e.Type = llm.ErrOverloaded
	}
	return e
}
