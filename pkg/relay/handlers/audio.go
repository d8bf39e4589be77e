package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/voxrelay/voxrelay/pkg/relay/capture"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StartAudioHandler starts server-side microphone capture. Captured
// frames fan out to every connected session; each session decides
// whether it is listening.
type StartAudioHandler struct {
	Capture *capture.Controller
	Logger  *slog.Logger
}

func (h StartAudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "method not allowed"})
		return
	}
	if err := h.Capture.Start(); err != nil {
		if errors.Is(err, capture.ErrUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Message: "Audio handler not available"})
			return
		}
		if h.Logger != nil {
			h.Logger.Error("failed to start audio capture", "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "failed to start audio capture"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "started", Message: "Audio listening started"})
}

// StopAudioHandler stops server-side microphone capture.
type StopAudioHandler struct {
	Capture *capture.Controller
}

func (h StopAudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "method not allowed"})
		return
	}
	if !h.Capture.Available() {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "error", Message: "Audio handler not available"})
		return
	}
	h.Capture.Stop()
	writeJSON(w, http.StatusOK, statusResponse{Status: "stopped", Message: "Audio listening stopped"})
}

// StatusHandler reports the relay's operational snapshot.
type StatusHandler struct {
	Provider string
	Sessions *sessions.Tracker
	Capture  *capture.Controller
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, statusResponse{Status: "error", Message: "method not allowed"})
		return
	}
	type statusReport struct {
		Status            string `json:"status"`
		LLMProvider       string `json:"llm_provider"`
		ActiveConnections int    `json:"active_connections"`
		AudioAvailable    bool   `json:"audio_available"`
		AudioListening    bool   `json:"audio_listening"`
	}
	writeJSON(w, http.StatusOK, statusReport{
		Status:            "running",
		LLMProvider:       h.Provider,
		ActiveConnections: h.Sessions.Count(),
		AudioAvailable:    h.Capture.Available(),
		AudioListening:    h.Capture.Running(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
