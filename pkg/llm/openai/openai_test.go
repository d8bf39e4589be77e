package openai

import (
	"errors"
	"testing"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Model: "gpt-4o-mini"}); err == nil {
		t.Fatal("New accepted empty api key")
	}
	if _, err := New(Config{APIKey: "sk-test"}); err == nil {
		t.Fatal("New accepted empty model")
	}
	p, err := New(Config{APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("Name() = %q, want %q", p.Name(), "openai")
	}
}

func TestConvMessages(t *testing.T) {
	req := &llm.Request{
		System: "be brief",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Text: "hi"},
			{Role: llm.RoleAssistant, Text: "hello"},
		},
	}
	msgs := convMessages(req)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Fatal("first message is not a system message")
	}
	if msgs[1].OfUser == nil {
		t.Fatal("second message is not a user message")
	}
	if msgs[2].OfAssistant == nil {
		t.Fatal("third message is not an assistant message")
	}
}

func TestConvMessagesNoSystem(t *testing.T) {
	req := &llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Text: "hi"}}}
	msgs := convMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("len(msgs) = %d, want 1", len(msgs))
	}
	if msgs[0].OfUser == nil {
		t.Fatal("message is not a user message")
	}
}

func TestConvErrorPlain(t *testing.T) {
	err := convError(errors.New("connection refused"))
	var terr *llm.Error
	if !errors.As(err, &terr) {
		t.Fatalf("convError returned %T, want *llm.Error", err)
	}
	if terr.Type != llm.ErrAPI || terr.Provider != "openai" {
		t.Fatalf("converted error = %+v", terr)
	}
}
