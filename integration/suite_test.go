//go:build integration
// +build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxrelay/voxrelay/client"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/llm"
	llmfake "github.com/voxrelay/voxrelay/pkg/llm/fake"
	"github.com/voxrelay/voxrelay/pkg/relay/capture"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/events"
	"github.com/voxrelay/voxrelay/pkg/relay/metrics"
	"github.com/voxrelay/voxrelay/pkg/relay/server"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/stt"
	sttfake "github.com/voxrelay/voxrelay/pkg/stt/fake"
)

func TestMain(m *testing.M) {
	// Load .env from the project root so the live-backend tests can
	// find provider keys. The file is optional.
	_, filename, _, _ := runtime.Caller(0)
	_ = godotenv.Load(filepath.Join(filepath.Dir(filename), "..", ".env"))

	os.Exit(m.Run())
}

// relayConfig returns settings tuned for fast in-process runs: a 1kHz
// sample rate so utterances are a few hundred samples, and a short
// silence window so segmentation closes quickly.
func relayConfig() config.Config {
	return config.Config{
		Addr:                 "127.0.0.1:0",
		Provider:             "fake",
		OpenAIModel:          "gpt-test",
		GeminiModel:          "gemini-test",
		Temperature:          0.7,
		MaxTokens:            256,
		HistoryWindow:        10,
		SystemPrompt:         "You are a test assistant.",
		SampleRate:           1000,
		FrameSamples:         50,
		EnergyThreshold:      500,
		SilenceDuration:      100 * time.Millisecond,
		MaxUtteranceDuration: 2 * time.Second,
		MaxJSONMessageBytes:  64 * 1024,
		WSPingInterval:       20 * time.Second,
		WSWriteTimeout:       2 * time.Second,
		OutboundQueueSize:    128,
		FrameQueueSize:       64,
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownGracePeriod:  5 * time.Second,
	}
}

type relayOptions struct {
	mutateConfig  func(*config.Config)
	transcriber   stt.Transcriber
	provider      llm.Provider
	captureSource capture.SourceFactory
}

type relayFixture struct {
	cfg     config.Config
	srv     *httptest.Server
	tracker *sessions.Tracker
	capture *capture.Controller
}

// startRelay assembles a full relay over httptest with fakes standing
// in for the speech and generation backends.
func startRelay(t *testing.T, opts relayOptions) *relayFixture {
	t.Helper()

	cfg := relayConfig()
	if opts.mutateConfig != nil {
		opts.mutateConfig(&cfg)
	}
	if opts.transcriber == nil {
		opts.transcriber = sttfake.NewTranscriber()
	}
	if opts.provider == nil {
		opts.provider = llmfake.NewProvider()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	pub := events.New(events.Config{}, logger, m)
	tracker := sessions.NewTracker()
	ctrl := capture.NewController(opts.captureSource, func(f audio.Frame) {
		tracker.FeedAll(f)
	}, logger)

	relay := server.New(cfg, logger, server.Dependencies{
		Transcriber: opts.transcriber,
		Provider:    opts.provider,
		Metrics:     m,
		Registry:    registry,
		Events:      pub,
		Sessions:    tracker,
		Capture:     ctrl,
	})

	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(func() {
		ctrl.Stop()
		srv.Close()
		_ = pub.Close()
	})

	return &relayFixture{cfg: cfg, srv: srv, tracker: tracker, capture: ctrl}
}

func (f *relayFixture) dial(t *testing.T) *client.Session {
	t.Helper()
	sess, err := client.Dial(testContext(t, 10*time.Second), f.srv.URL)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func nextEvent(t *testing.T, sess *client.Session) client.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event channel closed while waiting for an event")
		}
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return nil
}

// completeTurn consumes events until the turn reaches response_complete,
// checking that the streamed deltas reassemble into the final text.
// Status events are passed over; an error event fails the test.
func completeTurn(t *testing.T, sess *client.Session, timeout time.Duration) string {
	t.Helper()

	deadline := time.After(timeout)
	var streamed strings.Builder
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatal("event channel closed mid-turn")
			}
			switch ev := ev.(type) {
			case client.ResponseChunkEvent:
				streamed.WriteString(ev.Delta)
			case client.ResponseCompleteEvent:
				if streamed.Len() > 0 && streamed.String() != ev.Text {
					t.Fatalf("streamed %q does not reassemble into final %q", streamed.String(), ev.Text)
				}
				return ev.Text
			case client.ErrorEvent:
				t.Fatalf("turn failed: %s: %s", ev.Kind, ev.Message)
			}
		case <-deadline:
			t.Fatal("timed out waiting for turn completion")
		}
	}
}

// speechThenSilence builds a sample buffer the segmenter will close as
// one utterance: loud frames followed by enough silence to pass the
// configured silence window.
func speechThenSilence(loudSamples, silentSamples int) []int16 {
	samples := make([]int16, 0, loudSamples+silentSamples)
	for i := 0; i < loudSamples; i++ {
		samples = append(samples, 2000)
	}
	for i := 0; i < silentSamples; i++ {
		samples = append(samples, 0)
	}
	return samples
}

func testContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// --- Skip helpers ---

func requireOpenAIKey(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}
}
