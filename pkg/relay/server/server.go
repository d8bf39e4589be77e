package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxrelay/voxrelay/pkg/llm"
	"github.com/voxrelay/voxrelay/pkg/relay/capture"
	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/events"
	"github.com/voxrelay/voxrelay/pkg/relay/handlers"
	"github.com/voxrelay/voxrelay/pkg/relay/metrics"
	"github.com/voxrelay/voxrelay/pkg/relay/mw"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
	"github.com/voxrelay/voxrelay/pkg/stt"
)

// Dependencies carries the shared services the HTTP surface is built on.
// Transcriber and Provider are required for /ws to be useful; everything
// else may be nil and degrades to a no-op.
type Dependencies struct {
	Transcriber stt.Transcriber
	Provider    llm.Provider
	Metrics     *metrics.Metrics
	Registry    *prometheus.Registry
	Events      *events.Publisher
	Sessions    *sessions.Tracker
	Capture     *capture.Controller
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	deps Dependencies
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = sessions.NewTracker()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.UIHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))

	s.mux.Handle("/ws", handlers.WSHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Transcriber: s.deps.Transcriber,
		Provider:    s.deps.Provider,
		Metrics:     s.deps.Metrics,
		Events:      s.deps.Events,
		Sessions:    s.deps.Sessions,
	})

	s.mux.Handle("/start-audio", handlers.StartAudioHandler{
		Capture: s.deps.Capture,
		Logger:  s.logger,
	})
	s.mux.Handle("/stop-audio", handlers.StopAudioHandler{
		Capture: s.deps.Capture,
	})
	s.mux.Handle("/status", handlers.StatusHandler{
		Provider: s.cfg.Provider,
		Sessions: s.deps.Sessions,
		Capture:  s.deps.Capture,
	})
}

// Sessions exposes the tracker so the shutdown path can drain live
// connections.
func (s *Server) Sessions() *sessions.Tracker {
	return s.deps.Sessions
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
