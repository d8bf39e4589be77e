package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/llm"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/events"
	"github.com/voxrelay/voxrelay/pkg/relay/metrics"
	"github.com/voxrelay/voxrelay/pkg/relay/mw"
	"github.com/voxrelay/voxrelay/pkg/relay/session"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/stt"
)

// WSHandler handles /ws conversation sessions, one per connection.
type WSHandler struct {
	Config      config.Config
	Logger      *slog.Logger
	Transcriber stt.Transcriber
	Provider    llm.Provider
	Metrics     *metrics.Metrics
	Events      *events.Publisher
	Sessions    *sessions.Tracker
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "method not allowed"})
		return
	}
	if !h.originAllowed(r) {
		writeJSON(w, http.StatusForbidden, statusResponse{Status: "error", Message: "origin is not allowed"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "s_" + randHex(8)
	requestID, _ := mw.RequestIDFrom(r.Context())

	s, err := session.New(session.Dependencies{
		Conn:        conn,
		Logger:      h.Logger,
		Transcriber: h.Transcriber,
		Provider:    h.Provider,
		Metrics:     h.Metrics,
		Events:      h.Events,
		SessionID:   sessionID,
		RequestID:   requestID,
		Config:      h.sessionConfig(),
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("failed to initialize session", "session_id", sessionID, "error", err)
		}
		return
	}

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Feed:   s.Feed,
		})
	}
	defer unregister()

	h.Metrics.RecordSessionStart()
	start := time.Now()
	defer func() { h.Metrics.RecordSessionEnd(time.Since(start).Seconds()) }()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("session ended with error", "session_id", sessionID, "request_id", requestID, "error", err)
		}
	}
}

func (h WSHandler) sessionConfig() session.Config {
	return session.Config{
		SystemPrompt:        h.Config.SystemPrompt,
		Model:               h.Config.ModelName(),
		Temperature:         h.Config.Temperature,
		MaxTokens:           h.Config.MaxTokens,
		HistoryWindow:       h.Config.HistoryWindow,
		MaxJSONMessageBytes: h.Config.MaxJSONMessageBytes,
		ReadTimeout:         h.Config.WSReadTimeout,
		WriteTimeout:        h.Config.WSWriteTimeout,
		PingInterval:        h.Config.WSPingInterval,
		MaxSessionAge:       h.Config.SessionMaxAge,
		OutboundQueueSize:   h.Config.OutboundQueueSize,
		FrameQueueSize:      h.Config.FrameQueueSize,
		Segmenter: audio.SegmenterConfig{
			SampleRate:      h.Config.SampleRate,
			Threshold:       h.Config.EnergyThreshold,
			SilenceDuration: h.Config.SilenceDuration,
			MaxDuration:     h.Config.MaxUtteranceDuration,
		},
	}
}

// originAllowed accepts same-origin browsers, clients without an
// Origin header, and explicitly allowlisted origins.
func (h WSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
