package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/llm"
	llmfake "github.com/voxrelay/voxrelay/pkg/llm/fake"
	"github.com/voxrelay/voxrelay/pkg/llm/gemini"
	"github.com/voxrelay/voxrelay/pkg/llm/openai"
	"github.com/voxrelay/voxrelay/pkg/relay/capture"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/events"
	"github.com/voxrelay/voxrelay/pkg/relay/metrics"
	relayserver "github.com/voxrelay/voxrelay/pkg/relay/server"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/stt"
	sttfake "github.com/voxrelay/voxrelay/pkg/stt/fake"
	googlestt "github.com/voxrelay/voxrelay/pkg/stt/google"
)

type relayDeps struct {
	loadConfig     func() (config.Config, error)
	newTranscriber func(context.Context, config.Config) (stt.Transcriber, func() error, error)
	newProvider    func(context.Context, config.Config) (llm.Provider, error)
	signalNotify   func(chan<- os.Signal, ...os.Signal)
	signalStop     func(chan<- os.Signal)
}

func defaultRelayDeps() relayDeps {
	return relayDeps{
		loadConfig:     config.LoadFromEnv,
		newTranscriber: buildTranscriber,
		newProvider:    buildProvider,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildTranscriber(ctx context.Context, cfg config.Config) (stt.Transcriber, func() error, error) {
	base, err := googlestt.New(ctx, googlestt.Config{LanguageCode: cfg.STTLanguage})
	if err != nil {
		return nil, nil, err
	}
	wrapped := stt.WithRetry(base, stt.RetryConfig{
		Timeout:  cfg.STTTimeout,
		Attempts: cfg.STTRetries,
		Backoff:  cfg.STTRetryBackoff,
	})
	return wrapped, base.Close, nil
}

func buildProvider(ctx context.Context, cfg config.Config) (llm.Provider, error) {
	reg := llm.NewRegistry()

	reg.Register(llmfake.NewProvider())
	if cfg.OpenAIAPIKey != "" {
		p, err := openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		reg.Register(p)
	}
	if cfg.GeminiAPIKey != "" {
		p, err := gemini.New(ctx, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		reg.Register(p)
	}

	p, ok := reg.Get(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("llm provider %q is not configured", cfg.Provider)
	}
	return llm.WithRetry(p, llm.RetryConfig{
		Attempts: cfg.LLMRetries,
		Backoff:  cfg.LLMRetryBackoff,
	}), nil
}

func buildCaptureFactory(cfg config.Config, logger *slog.Logger) capture.SourceFactory {
	if !cfg.CaptureEnabled {
		return nil
	}
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		logger.Warn("server-side audio capture unavailable", "error", err)
		return nil
	}
	return func() (audio.Source, error) {
		return audio.NewFFmpegSource(audio.FFmpegConfig{
			SampleRate:   cfg.SampleRate,
			FrameSamples: cfg.FrameSamples,
			Input:        cfg.CaptureDevice,
			Path:         cfg.FFmpegPath,
		}), nil
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runRelay(ctx context.Context, stderr io.Writer, deps relayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newTranscriber == nil || deps.newProvider == nil {
		return errors.New("missing backend dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	transcriber, closeTranscriber, err := deps.newTranscriber(ctx, cfg)
	if err != nil {
		logger.Warn("speech backend unavailable, using canned transcriber", "error", err)
		transcriber = sttfake.NewTranscriber()
		closeTranscriber = nil
	}
	defer func() {
		if closeTranscriber == nil {
			return
		}
		if err := closeTranscriber(); err != nil {
			logger.Warn("close transcriber", "error", err)
		}
	}()

	provider, err := deps.newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	publisher := events.New(events.Config{
		Enabled:          cfg.KafkaEnabled,
		Brokers:          cfg.KafkaBrokers,
		TopicTranscripts: cfg.KafkaTopicTranscripts,
		TopicResponses:   cfg.KafkaTopicResponses,
	}, logger, m)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", "error", err)
		}
	}()

	tracker := sessions.NewTracker()
	ctrl := capture.NewController(buildCaptureFactory(cfg, logger), func(f audio.Frame) {
		tracker.FeedAll(f)
	}, logger)
	defer ctrl.Stop()

	srv := relayserver.New(cfg, logger, relayserver.Dependencies{
		Transcriber: transcriber,
		Provider:    provider,
		Metrics:     m,
		Registry:    registry,
		Events:      publisher,
		Sessions:    tracker,
		Capture:     ctrl,
	})
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting relay",
		"addr", cfg.Addr,
		"llm_provider", cfg.Provider,
		"audio_available", ctrl.Available())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = httpSrv.Close()
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	ctrl.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !tracker.Wait(waitCtx) {
		tracker.CancelAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("relay stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps relayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "voxrelay: load .env: %v\n", err)
		return 1
	}

	if err := runRelay(ctx, stderr, deps); err != nil {
		fmt.Fprintf(stderr, "voxrelay: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultRelayDeps()))
}
