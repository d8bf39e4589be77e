// Package google adapts Google Cloud Speech-to-Text to the relay's
// transcription contract.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/stt"
)

// Config carries the recognition settings.
type Config struct {
	// LanguageCode selects the recognition language. Defaults to
	// "en-US".
	LanguageCode string
}

// Adapter transcribes bounded utterances with the synchronous
// Recognize API. Utterances are short by construction, so the
// streaming API is unnecessary.
type Adapter struct {
	client *speech.Client
	lang   string
}

// New dials the Speech API using ambient Google credentials
// (GOOGLE_APPLICATION_CREDENTIALS or workload identity).
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en-US"
	}
	return &Adapter{client: c, lang: lang}, nil
}

func (a *Adapter) Name() string { return "google" }

func (a *Adapter) Transcribe(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(u.SampleRate),
			LanguageCode:    a.lang,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: u.PCM()},
		},
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("recognize: %w", err)
	}
	return collectResult(resp)
}

func (a *Adapter) Close() error { return a.client.Close() }

// collectResult joins the per-segment top alternatives. An empty
// response means the service found no speech.
func collectResult(resp *speechpb.RecognizeResponse) (stt.Result, error) {
	var (
		sb   strings.Builder
		conf float32
	)
	for _, res := range resp.GetResults() {
		if len(res.GetAlternatives()) == 0 {
			continue
		}
		alt := res.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(text)
		if alt.GetConfidence() > conf {
			conf = alt.GetConfidence()
		}
	}
	if sb.Len() == 0 {
		return stt.Result{}, stt.ErrNoSpeech
	}
	return stt.Result{Text: sb.String(), Confidence: conf}, nil
}
