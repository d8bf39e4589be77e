// Package fake provides a canned transcriber. It backs tests and lets
// the relay run end to end without speech credentials.
package fake

import (
	"context"
	"fmt"

	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/stt"
)

// Transcriber satisfies stt.Transcriber without touching the network.
// The zero behavior reports the utterance length; TranscribeFn
// overrides it for scripted tests.
type Transcriber struct {
	// TranscribeFn, when set, handles every Transcribe call.
	TranscribeFn func(ctx context.Context, u *audio.Utterance) (stt.Result, error)
}

func NewTranscriber() *Transcriber {
	return &Transcriber{}
}

func (t *Transcriber) Name() string { return "fake" }

func (t *Transcriber) Transcribe(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
	if t.TranscribeFn != nil {
		return t.TranscribeFn(ctx, u)
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}
	text := fmt.Sprintf("I heard %.1f seconds of audio. Configure speech credentials for real transcription.", u.Duration().Seconds())
	return stt.Result{Text: text, Confidence: 1}, nil
}
