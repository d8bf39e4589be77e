// Package config loads and validates relay settings from the
// environment. Every knob has a default matching local development, so
// a bare `voxrelay` with just an API key in the environment runs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt seeds every conversation unless overridden.
const DefaultSystemPrompt = "You are a helpful AI assistant. Respond conversationally to what the user says. Keep responses concise but helpful."

type Config struct {
	Addr     string
	LogLevel slog.Level

	// LLM backend selection and generation parameters. Each backend
	// has its own model knob so switching providers never sends one
	// vendor's model name to the other.
	Provider      string
	OpenAIModel   string
	GeminiModel   string
	Temperature   float64
	MaxTokens     int
	HistoryWindow int
	SystemPrompt  string

	// Provider credentials. Key names follow each vendor's own
	// convention rather than the VOXRELAY_ prefix.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string

	LLMRetries      int
	LLMRetryBackoff time.Duration

	// Speech-to-text. The Google client reads its own credentials from
	// GOOGLE_APPLICATION_CREDENTIALS.
	STTLanguage     string
	STTTimeout      time.Duration
	STTRetries      int
	STTRetryBackoff time.Duration

	// Audio capture and utterance segmentation.
	SampleRate           int
	FrameSamples         int
	EnergyThreshold      float64
	SilenceDuration      time.Duration
	MaxUtteranceDuration time.Duration
	CaptureEnabled       bool
	CaptureDevice        string
	FFmpegPath           string

	// WebSocket session tuning.
	MaxJSONMessageBytes int64
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	WSReadTimeout       time.Duration
	OutboundQueueSize   int
	FrameQueueSize      int
	SessionMaxAge       time.Duration // 0 disables the age limit

	// Kafka conversation-event export.
	KafkaEnabled          bool
	KafkaBrokers          []string
	KafkaTopicTranscripts string
	KafkaTopicResponses   string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("VOXRELAY_ADDR", "localhost:8000"),
		LogLevel:              envLogLevelOr("VOXRELAY_LOG_LEVEL", slog.LevelInfo),
		Provider:              strings.ToLower(envOr("VOXRELAY_LLM_PROVIDER", "openai")),
		OpenAIModel:           envOr("VOXRELAY_OPENAI_MODEL", "gpt-3.5-turbo"),
		GeminiModel:           envOr("VOXRELAY_GEMINI_MODEL", "gemini-2.0-flash"),
		Temperature:           envFloat64Or("VOXRELAY_LLM_TEMPERATURE", 0.7),
		MaxTokens:             envIntOr("VOXRELAY_LLM_MAX_TOKENS", 500),
		HistoryWindow:         envIntOr("VOXRELAY_HISTORY_WINDOW", 10),
		SystemPrompt:          envOr("VOXRELAY_SYSTEM_PROMPT", DefaultSystemPrompt),
		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:         envOr("VOXRELAY_OPENAI_BASE_URL", ""),
		GeminiAPIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		LLMRetries:            envIntOr("VOXRELAY_LLM_RETRIES", 2),
		LLMRetryBackoff:       envDurationOr("VOXRELAY_LLM_RETRY_BACKOFF", 500*time.Millisecond),
		STTLanguage:           envOr("VOXRELAY_STT_LANGUAGE", "en-US"),
		STTTimeout:            envDurationOr("VOXRELAY_STT_TIMEOUT", 10*time.Second),
		STTRetries:            envIntOr("VOXRELAY_STT_RETRIES", 2),
		STTRetryBackoff:       envDurationOr("VOXRELAY_STT_RETRY_BACKOFF", 500*time.Millisecond),
		SampleRate:            envIntOr("VOXRELAY_SAMPLE_RATE", 16000),
		FrameSamples:          envIntOr("VOXRELAY_FRAME_SAMPLES", 4096),
		EnergyThreshold:       envFloat64Or("VOXRELAY_ENERGY_THRESHOLD", 200),
		SilenceDuration:       envDurationOr("VOXRELAY_SILENCE_DURATION", 1500*time.Millisecond),
		MaxUtteranceDuration:  envDurationOr("VOXRELAY_MAX_UTTERANCE_DURATION", 30*time.Second),
		CaptureEnabled:        envBoolOr("VOXRELAY_CAPTURE_ENABLED", true),
		CaptureDevice:         envOr("VOXRELAY_CAPTURE_DEVICE", ""),
		FFmpegPath:            envOr("VOXRELAY_FFMPEG_PATH", ""),
		MaxJSONMessageBytes:   envInt64Or("VOXRELAY_WS_MAX_MESSAGE_BYTES", 64*1024),
		WSPingInterval:        envDurationOr("VOXRELAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:        envDurationOr("VOXRELAY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:         envDurationOr("VOXRELAY_WS_READ_TIMEOUT", 0),
		OutboundQueueSize:     envIntOr("VOXRELAY_WS_OUTBOUND_QUEUE", 128),
		FrameQueueSize:        envIntOr("VOXRELAY_WS_FRAME_QUEUE", 64),
		SessionMaxAge:         envDurationOr("VOXRELAY_SESSION_MAX_AGE", 0),
		KafkaEnabled:          envBoolOr("VOXRELAY_KAFKA_ENABLED", false),
		KafkaBrokers:          splitCSV(os.Getenv("VOXRELAY_KAFKA_BROKERS")),
		KafkaTopicTranscripts: envOr("VOXRELAY_KAFKA_TOPIC_TRANSCRIPTS", "voxrelay.transcripts"),
		KafkaTopicResponses:   envOr("VOXRELAY_KAFKA_TOPIC_RESPONSES", "voxrelay.responses"),
		CORSAllowedOrigins:    make(map[string]struct{}),
		ReadHeaderTimeout:     envDurationOr("VOXRELAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:   envDurationOr("VOXRELAY_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOXRELAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.Provider {
	case "openai", "gemini", "fake":
	default:
		return Config{}, fmt.Errorf("VOXRELAY_LLM_PROVIDER must be one of openai|gemini|fake")
	}
	if cfg.Provider == "openai" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set when VOXRELAY_LLM_PROVIDER=openai")
	}
	if cfg.Provider == "gemini" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set when VOXRELAY_LLM_PROVIDER=gemini")
	}
	if strings.TrimSpace(cfg.OpenAIModel) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_OPENAI_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_GEMINI_MODEL must not be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("VOXRELAY_LLM_TEMPERATURE must be in [0, 2]")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_LLM_MAX_TOKENS must be > 0")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_HISTORY_WINDOW must be > 0")
	}
	if cfg.LLMRetries < 0 {
		return Config{}, fmt.Errorf("VOXRELAY_LLM_RETRIES must be >= 0")
	}
	if cfg.LLMRetryBackoff <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_LLM_RETRY_BACKOFF must be > 0")
	}
	if strings.TrimSpace(cfg.STTLanguage) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_STT_LANGUAGE must not be empty")
	}
	if cfg.STTTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_STT_TIMEOUT must be > 0")
	}
	if cfg.STTRetries < 0 {
		return Config{}, fmt.Errorf("VOXRELAY_STT_RETRIES must be >= 0")
	}
	if cfg.STTRetryBackoff <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_STT_RETRY_BACKOFF must be > 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SAMPLE_RATE must be > 0")
	}
	if cfg.FrameSamples <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_FRAME_SAMPLES must be > 0")
	}
	if cfg.EnergyThreshold <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_ENERGY_THRESHOLD must be > 0")
	}
	if cfg.SilenceDuration <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SILENCE_DURATION must be > 0")
	}
	if cfg.MaxUtteranceDuration <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_MAX_UTTERANCE_DURATION must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_OUTBOUND_QUEUE must be > 0")
	}
	if cfg.FrameQueueSize <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_WS_FRAME_QUEUE must be > 0")
	}
	if cfg.SessionMaxAge < 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SESSION_MAX_AGE must be >= 0")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("VOXRELAY_KAFKA_BROKERS must be set when VOXRELAY_KAFKA_ENABLED=true")
	}
	if strings.TrimSpace(cfg.KafkaTopicTranscripts) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_KAFKA_TOPIC_TRANSCRIPTS must not be empty")
	}
	if strings.TrimSpace(cfg.KafkaTopicResponses) == "" {
		return Config{}, fmt.Errorf("VOXRELAY_KAFKA_TOPIC_RESPONSES must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXRELAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// ModelName returns the generation model for the active provider, or
// "" when the provider carries no real model.
func (c Config) ModelName() string {
	switch c.Provider {
	case "openai":
		return c.OpenAIModel
	case "gemini":
		return c.GeminiModel
	default:
		return ""
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envLogLevelOr(key string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
