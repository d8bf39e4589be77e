//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/client"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/llm"
	llmfake "github.com/voxrelay/voxrelay/pkg/llm/fake"
	"github.com/voxrelay/voxrelay/pkg/llm/openai"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/stt"
	sttfake "github.com/voxrelay/voxrelay/pkg/stt/fake"
)

// feedUtterance pushes one speech-then-silence utterance into every
// registered session, the way the capture pump would.
func (f *relayFixture) feedUtterance() {
	samples := speechThenSilence(300, 300)
	seq := uint64(0)
	for off := 0; off < len(samples); off += f.cfg.FrameSamples {
		end := off + f.cfg.FrameSamples
		if end > len(samples) {
			end = len(samples)
		}
		f.tracker.FeedAll(audio.Frame{Seq: seq, Samples: samples[off:end]})
		seq++
	}
}

func TestRelay_TextTurnRoundTrip(t *testing.T) {
	fx := startRelay(t, relayOptions{})
	sess := fx.dial(t)

	if err := sess.SendText("hello relay"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	ev := nextEvent(t, sess)
	echo, ok := ev.(client.TranscriptionEvent)
	if !ok || echo.Content != "hello relay" {
		t.Fatalf("first event = %#v, want the input echoed as a transcription", ev)
	}
	ev = nextEvent(t, sess)
	status, ok := ev.(client.StatusEvent)
	if !ok || status.Content != "thinking" {
		t.Fatalf("second event = %#v, want status thinking", ev)
	}

	text := completeTurn(t, sess, 10*time.Second)
	if !strings.Contains(text, "hello relay") {
		t.Fatalf("response %q does not echo the input", text)
	}
}

func TestRelay_VoiceTurnThroughServerCapture(t *testing.T) {
	fx := startRelay(t, relayOptions{
		transcriber: &sttfake.Transcriber{
			TranscribeFn: func(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
				return stt.Result{Text: "what time is it", Confidence: 0.9}, nil
			},
		},
		captureSource: func() (audio.Source, error) {
			return audio.NewStaticSource(speechThenSilence(300, 300), 1000, 50), nil
		},
	})
	sess := fx.dial(t)

	if err := sess.StartListening(); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	if _, ok := nextEvent(t, sess).(client.ListeningStartedEvent); !ok {
		t.Fatal("expected listening_started ack")
	}

	resp, err := fx.srv.Client().Get(fx.srv.URL + "/start-audio")
	if err != nil {
		t.Fatalf("start-audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start-audio status = %d, want 200", resp.StatusCode)
	}

	tr, ok := nextEvent(t, sess).(client.TranscriptionEvent)
	if !ok {
		t.Fatal("expected a transcription event after feeding audio")
	}
	if tr.Content != "what time is it" {
		t.Fatalf("transcription = %q, want scripted text", tr.Content)
	}

	text := completeTurn(t, sess, 10*time.Second)
	if !strings.Contains(text, "what time is it") {
		t.Fatalf("response %q does not reference the transcript", text)
	}
}

func TestRelay_ClearHistoryShrinksPromptWindow(t *testing.T) {
	var mu sync.Mutex
	var promptSizes []int
	provider := llmfake.NewProvider()
	provider.StreamFn = func(ctx context.Context, req *llm.Request) (llm.Stream, error) {
		mu.Lock()
		promptSizes = append(promptSizes, len(req.Messages))
		mu.Unlock()
		return llmfake.NewStream("ok"), nil
	}

	fx := startRelay(t, relayOptions{provider: provider})
	sess := fx.dial(t)

	for _, msg := range []string{"first", "second"} {
		if err := sess.SendText(msg); err != nil {
			t.Fatalf("send %q: %v", msg, err)
		}
		completeTurn(t, sess, 10*time.Second)
	}

	if err := sess.ClearHistory(); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	if _, ok := nextEvent(t, sess).(client.HistoryClearedEvent); !ok {
		t.Fatal("expected history_cleared ack")
	}

	if err := sess.SendText("third"); err != nil {
		t.Fatalf("send third: %v", err)
	}
	completeTurn(t, sess, 10*time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 3, 1}
	if len(promptSizes) != len(want) {
		t.Fatalf("generation calls = %d, want %d", len(promptSizes), len(want))
	}
	for i, n := range want {
		if promptSizes[i] != n {
			t.Fatalf("call %d prompt size = %d, want %d (sizes %v)", i, promptSizes[i], n, promptSizes)
		}
	}
}

func TestRelay_NoSpeechDoesNotEndSession(t *testing.T) {
	fx := startRelay(t, relayOptions{
		transcriber: &sttfake.Transcriber{
			TranscribeFn: func(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
				return stt.Result{}, stt.ErrNoSpeech
			},
		},
	})
	sess := fx.dial(t)

	if err := sess.StartListening(); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	if _, ok := nextEvent(t, sess).(client.ListeningStartedEvent); !ok {
		t.Fatal("expected listening_started ack")
	}

	fx.feedUtterance()

	errEv, ok := nextEvent(t, sess).(client.ErrorEvent)
	if !ok || errEv.Kind != "no_speech_detected" {
		t.Fatalf("event = %#v, want no_speech_detected error", errEv)
	}

	// The session stays usable for text turns.
	if err := sess.SendText("still there?"); err != nil {
		t.Fatalf("send text after no-speech: %v", err)
	}
	if text := completeTurn(t, sess, 10*time.Second); !strings.Contains(text, "still there?") {
		t.Fatalf("response %q does not echo the input", text)
	}
}

func TestRelay_TranscriptionRetriesThenReportsUnavailable(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	backend := &sttfake.Transcriber{
		TranscribeFn: func(ctx context.Context, u *audio.Utterance) (stt.Result, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return stt.Result{}, errors.New("backend down")
		},
	}

	fx := startRelay(t, relayOptions{
		transcriber: stt.WithRetry(backend, stt.RetryConfig{
			Timeout:  time.Second,
			Attempts: 1,
			Backoff:  time.Millisecond,
		}),
	})
	sess := fx.dial(t)

	if err := sess.StartListening(); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	if _, ok := nextEvent(t, sess).(client.ListeningStartedEvent); !ok {
		t.Fatal("expected listening_started ack")
	}

	fx.feedUtterance()

	errEv, ok := nextEvent(t, sess).(client.ErrorEvent)
	if !ok || errEv.Kind != "transcription_unavailable" {
		t.Fatalf("event = %#v, want transcription_unavailable error", errEv)
	}

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 2 {
		t.Fatalf("transcription attempts = %d, want initial call plus one retry", got)
	}

	if err := sess.SendText("fallback to text"); err != nil {
		t.Fatalf("send text after transcription failure: %v", err)
	}
	completeTurn(t, sess, 10*time.Second)
}

type statusReport struct {
	Status            string `json:"status"`
	LLMProvider       string `json:"llm_provider"`
	ActiveConnections int    `json:"active_connections"`
	AudioAvailable    bool   `json:"audio_available"`
	AudioListening    bool   `json:"audio_listening"`
}

func getStatus(t *testing.T, fx *relayFixture) statusReport {
	t.Helper()
	resp, err := fx.srv.Client().Get(fx.srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	var st statusReport
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestRelay_HTTPSurfaceWithoutCapture(t *testing.T) {
	fx := startRelay(t, relayOptions{})

	resp, err := fx.srv.Client().Get(fx.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}

	st := getStatus(t, fx)
	if st.Status != "running" || st.LLMProvider != "fake" {
		t.Fatalf("status = %+v, want running/fake", st)
	}
	if st.AudioAvailable || st.AudioListening {
		t.Fatalf("status = %+v, want audio unavailable", st)
	}
	if st.ActiveConnections != 0 {
		t.Fatalf("active connections = %d, want 0", st.ActiveConnections)
	}

	resp, err = fx.srv.Client().Get(fx.srv.URL + "/start-audio")
	if err != nil {
		t.Fatalf("get start-audio: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("start-audio status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Audio handler not available") {
		t.Fatalf("start-audio body = %q, want unavailable message", body)
	}

	resp, err = fx.srv.Client().Get(fx.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "voxrelay") {
		t.Fatalf("metrics body has no relay series")
	}
}

func TestRelay_HTTPSurfaceWithCapture(t *testing.T) {
	fx := startRelay(t, relayOptions{
		captureSource: func() (audio.Source, error) {
			src := audio.NewStaticSource(make([]int16, 5000), 1000, 50)
			src.Interval = 10 * time.Millisecond
			return src, nil
		},
	})

	fx.dial(t)

	deadline := time.Now().Add(2 * time.Second)
	for fx.tracker.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	st := getStatus(t, fx)
	if !st.AudioAvailable {
		t.Fatalf("status = %+v, want audio available", st)
	}
	if st.AudioListening {
		t.Fatalf("status = %+v, want capture idle before start", st)
	}
	if st.ActiveConnections != 1 {
		t.Fatalf("active connections = %d, want 1", st.ActiveConnections)
	}

	resp, err := fx.srv.Client().Get(fx.srv.URL + "/start-audio")
	if err != nil {
		t.Fatalf("get start-audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start-audio status = %d, want 200", resp.StatusCode)
	}

	if st := getStatus(t, fx); !st.AudioListening {
		t.Fatalf("status = %+v, want capture running after start", st)
	}

	resp, err = fx.srv.Client().Get(fx.srv.URL + "/stop-audio")
	if err != nil {
		t.Fatalf("get stop-audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop-audio status = %d, want 200", resp.StatusCode)
	}

	if st := getStatus(t, fx); st.AudioListening {
		t.Fatalf("status = %+v, want capture stopped", st)
	}
}

func TestRelay_LiveOpenAIGeneration(t *testing.T) {
	requireOpenAIKey(t)

	provider, err := openai.New(openai.Config{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  "gpt-3.5-turbo",
	})
	if err != nil {
		t.Fatalf("build openai provider: %v", err)
	}

	fx := startRelay(t, relayOptions{
		provider: provider,
		mutateConfig: func(cfg *config.Config) {
			cfg.Provider = "openai"
			cfg.OpenAIModel = "gpt-3.5-turbo"
			cfg.MaxTokens = 50
		},
	})
	sess := fx.dial(t)

	if err := sess.SendText("Reply with the single word ok."); err != nil {
		t.Fatalf("send text: %v", err)
	}
	text := completeTurn(t, sess, 60*time.Second)
	if strings.TrimSpace(text) == "" {
		t.Fatal("expected a non-empty live response")
	}
}
