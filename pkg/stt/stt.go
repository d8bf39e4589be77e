// Package stt defines the transcription contract between the relay
// and its speech-to-text backends.
package stt

import (
	"context"
	"errors"

	"github.com/voxrelay/voxrelay/pkg/audio"
)

// ErrNoSpeech reports that the backend found no transcribable speech
// in the utterance. It is a normal outcome, not a transport failure,
// and is never retried.
var ErrNoSpeech = errors.New("no speech detected")

// Result is a successful transcription.
type Result struct {
	Text       string
	Confidence float32
}

// Transcriber converts one bounded utterance to text. Implementations
// wrap a remote call and surface its errors untyped; retry and timeout
// policy lives in WithRetry.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, u *audio.Utterance) (Result, error)
}
