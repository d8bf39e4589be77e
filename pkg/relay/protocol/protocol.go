// Package protocol defines the wire messages exchanged over a relay
// session's websocket. One JSON object per text frame, dispatched on
// its "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxTextInputBytes bounds the content of a single text_input frame.
const MaxTextInputBytes = 16 << 10

// Error kinds carried by the server error message. Stable wire
// strings; clients switch on them.
const (
	ErrorKindNoSpeechDetected         = "no_speech_detected"
	ErrorKindTranscriptionUnavailable = "transcription_unavailable"
	ErrorKindGenerationInterrupted    = "generation_interrupted"
	ErrorKindChannelError             = "channel_error"
	ErrorKindBadRequest               = "bad_request"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type ClientStartListening struct {
	Type string `json:"type"`
}

type ClientStopListening struct {
	Type string `json:"type"`
}

type ClientTextInput struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ClientClearHistory struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound text frame into its typed
// message, validating required fields. Errors are always *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start_listening":
		return ClientStartListening{Type: typ}, nil
	case "stop_listening":
		return ClientStopListening{Type: typ}, nil
	case "text_input":
		var msg ClientTextInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_input", "")
		}
		if len(msg.Content) > MaxTextInputBytes {
			return nil, badRequest("text_input.content is too large", "content")
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, badRequest("text_input.content is required", "content")
		}
		return msg, nil
	case "clear_history":
		return ClientClearHistory{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type ServerTranscription struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type ServerResponseChunk struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	FullContent string `json:"full_content"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

type ServerResponseComplete struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type ServerError struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ServerStatus struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Message string `json:"message,omitempty"`
}

type ServerListeningStarted struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type ServerListeningStopped struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type ServerHistoryCleared struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
