package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxrelay/voxrelay/pkg/relay/protocol"
)

// Event is one typed server message. Consumers switch on the concrete
// type; UnknownEvent preserves frames this client version does not
// recognize.
type Event interface {
	eventType() string
}

// TranscriptionEvent echoes the user text a turn was built from,
// whether transcribed or typed.
type TranscriptionEvent struct {
	Content     string
	TimestampMS int64
}

func (TranscriptionEvent) eventType() string { return "transcription" }

// StatusEvent carries session phase notices such as "thinking" and
// "session_expired".
type StatusEvent struct {
	Content string
	Message string
}

func (StatusEvent) eventType() string { return "status" }

// ResponseChunkEvent is one streamed generation increment. Text is the
// accumulated response so far.
type ResponseChunkEvent struct {
	Delta       string
	Text        string
	TimestampMS int64
}

func (ResponseChunkEvent) eventType() string { return "response_chunk" }

// ResponseCompleteEvent carries the full response text of a finished
// turn.
type ResponseCompleteEvent struct {
	Text        string
	TimestampMS int64
}

func (ResponseCompleteEvent) eventType() string { return "response_complete" }

// ErrorEvent is a relay failure report. Kind is one of the stable
// protocol error kinds; most are per-turn and leave the session
// usable.
type ErrorEvent struct {
	Kind    string
	Message string
}

func (ErrorEvent) eventType() string { return "error" }

type ListeningStartedEvent struct {
	Message string
}

func (ListeningStartedEvent) eventType() string { return "listening_started" }

type ListeningStoppedEvent struct {
	Message string
}

func (ListeningStoppedEvent) eventType() string { return "listening_stopped" }

type HistoryClearedEvent struct {
	Message string
}

func (HistoryClearedEvent) eventType() string { return "history_cleared" }

type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

func decodeServerFrame(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case "transcription":
		var msg protocol.ServerTranscription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
		return TranscriptionEvent{Content: msg.Content, TimestampMS: msg.Timestamp}, nil
	case "status":
		var msg protocol.ServerStatus
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		return StatusEvent{Content: msg.Content, Message: msg.Message}, nil
	case "response_chunk":
		var msg protocol.ServerResponseChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode response_chunk: %w", err)
		}
		return ResponseChunkEvent{Delta: msg.Content, Text: msg.FullContent, TimestampMS: msg.Timestamp}, nil
	case "response_complete":
		var msg protocol.ServerResponseComplete
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode response_complete: %w", err)
		}
		return ResponseCompleteEvent{Text: msg.Content, TimestampMS: msg.Timestamp}, nil
	case "error":
		var msg protocol.ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return ErrorEvent{Kind: msg.Kind, Message: msg.Message}, nil
	case "listening_started":
		var msg protocol.ServerListeningStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode listening_started: %w", err)
		}
		return ListeningStartedEvent{Message: msg.Message}, nil
	case "listening_stopped":
		var msg protocol.ServerListeningStopped
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode listening_stopped: %w", err)
		}
		return ListeningStoppedEvent{Message: msg.Message}, nil
	case "history_cleared":
		var msg protocol.ServerHistoryCleared
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode history_cleared: %w", err)
		}
		return HistoryClearedEvent{Message: msg.Message}, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
