// Package session implements the per-connection conversation
// coordinator: it segments inbound audio into utterances, hands them to
// the transcriber, feeds transcripts and typed input through the
// conversation history into the streaming provider, and serializes
// everything the client sees onto one outbound writer.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/llm"
	"github.com/voxrelay/voxrelay/pkg/relay/events"
	"github.com/voxrelay/voxrelay/pkg/relay/metrics"
	"github.com/voxrelay/voxrelay/pkg/relay/protocol"
	"github.com/voxrelay/voxrelay/pkg/stt"
)

const outboundPriorityQueueSize = 8

var errBackpressure = errors.New("relay outbound backpressure")

// ListeningState is the externally visible mode of a session.
// Processing covers both transcription and generation; whether the
// session returns to Listening or Idle afterwards depends on the
// listening flag the client controls.
type ListeningState string

const (
	StateIdle       ListeningState = "idle"
	StateListening  ListeningState = "listening"
	StateProcessing ListeningState = "processing"
)

type Config struct {
	SystemPrompt        string
	Model               string
	Temperature         float64
	MaxTokens           int
	HistoryWindow       int
	MaxJSONMessageBytes int64
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PingInterval        time.Duration
	MaxSessionAge       time.Duration // 0 disables the age limit
	OutboundQueueSize   int
	FrameQueueSize      int
	Segmenter           audio.SegmenterConfig
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Transcriber stt.Transcriber
	Provider    llm.Provider
	Metrics     *metrics.Metrics
	Events      *events.Publisher
	SessionID   string
	RequestID   string
	Config      Config
	Now         func() time.Time
}

// Session coordinates one websocket connection. All session state
// (listening mode, history, the turn queue) is owned by the Run loop;
// Feed, State, and Cancel are the only goroutine-safe entry points.
type Session struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	transcriber stt.Transcriber
	provider    llm.Provider
	metrics     *metrics.Metrics
	events      *events.Publisher
	sessionID   string
	requestID   string
	cfg         Config
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	seg    *audio.Segmenter
	frames chan audio.Frame

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	listening atomic.Bool
	state     atomic.Value // ListeningState
}

type outboundFrame struct {
	payload []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// turnInput is one queued conversation turn: either a segmented
// utterance awaiting transcription or literal text from the client.
type turnInput struct {
	text      string
	utterance *audio.Utterance
}

type transcribeResult struct {
	turnID     int
	text       string
	confidence float32
	err        error
}

type generateResult struct {
	turnID   int
	turnUUID string
	epoch    int
	text     string
	chunks   int
	duration time.Duration
	err      error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SessionID != "" {
		deps.Logger = deps.Logger.With("session_id", deps.SessionID)
	}
	if deps.RequestID != "" {
		deps.Logger = deps.Logger.With("request_id", deps.RequestID)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.FrameQueueSize <= 0 {
		deps.Config.FrameQueueSize = 64
	}
	if deps.Config.HistoryWindow <= 0 {
		deps.Config.HistoryWindow = 10
	}

	seg, err := audio.NewSegmenter(deps.Config.Segmenter)
	if err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:             deps.Conn,
		logger:           deps.Logger,
		transcriber:      deps.Transcriber,
		provider:         deps.Provider,
		metrics:          deps.Metrics,
		events:           deps.Events,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		seg:              seg,
		frames:           make(chan audio.Frame, deps.Config.FrameQueueSize),
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	s.state.Store(StateIdle)
	return s, nil
}

// Feed offers one captured audio frame to the session. It never
// blocks: frames are dropped when the session is not listening or
// cannot keep up with the capture rate.
func (s *Session) Feed(frame audio.Frame) {
	if s == nil || !s.listening.Load() {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.metrics.RecordFrameDropped()
	}
}

// State reports the session's current mode.
func (s *Session) State() ListeningState {
	if s == nil {
		return StateIdle
	}
	if st, ok := s.state.Load().(ListeningState); ok {
		return st
	}
	return StateIdle
}

// Cancel aborts the session from outside the Run loop.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Run drives the session until the connection closes or fails. It owns
// the state machine; the reader, writer, and per-turn pipeline
// goroutines communicate with it exclusively through channels.
func (s *Session) Run() error {
	var wg sync.WaitGroup
	defer func() {
		s.listening.Store(false)
		s.cancel()
		wg.Wait()
	}()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func() error {
		s.cancel()
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		return nil
	}

	failChannel := func() error {
		s.logger.Warn("outbound channel stalled, closing session")
		_ = s.sendJSONPriority("error", protocol.ServerError{Type: "error", Kind: protocol.ErrorKindChannelError, Message: "outbound channel stalled"})
		_ = flushAndClose()
		return errBackpressure
	}

	transcribeCh := make(chan transcribeResult, 1)
	generateCh := make(chan generateResult, 1)

	var ageCh <-chan time.Time
	if s.cfg.MaxSessionAge > 0 {
		ageTimer := time.NewTimer(s.cfg.MaxSessionAge)
		defer ageTimer.Stop()
		ageCh = ageTimer.C
	}

	var (
		history    = newHistoryManager()
		listening  bool
		processing bool
		pending    *turnInput
		turnID     int
		epoch      int
	)

	publishState := func() {
		switch {
		case processing:
			s.state.Store(StateProcessing)
		case listening:
			s.state.Store(StateListening)
		default:
			s.state.Store(StateIdle)
		}
	}
	publishState()

	// beginGeneration appends the user turn, echoes it to the client,
	// and launches the streaming generation stage for that turn. The
	// turn uuid ties the history entries to the published events.
	beginGeneration := func(id int, userText string, confidence float32, source string) error {
		turnUUID := uuid.NewString()
		history.appendUser(turnUUID, userText, s.now())
		if err := s.sendJSON("transcription", protocol.ServerTranscription{Type: "transcription", Content: userText, Timestamp: s.unixMS()}); err != nil {
			return err
		}
		if err := s.sendJSON("status", protocol.ServerStatus{Type: "status", Content: "thinking", Message: "AI is thinking..."}); err != nil {
			return err
		}
		prompt := history.window(s.cfg.HistoryWindow)
		wg.Add(1)
		go func(id, ep int, tid string, prompt []llm.Message, text string, conf float32, src string) {
			defer wg.Done()
			_ = s.events.PublishTranscript(s.ctx, events.TranscriptEvent{
				SessionID:  s.sessionID,
				TurnID:     tid,
				Text:       text,
				Provider:   src,
				Confidence: conf,
				Timestamp:  s.unixMS(),
			})
			started := s.now()
			res := s.runGeneration(id, ep, prompt)
			res.turnUUID = tid
			res.duration = s.now().Sub(started)
			_ = s.events.PublishResponse(s.ctx, events.ResponseEvent{
				SessionID: s.sessionID,
				TurnID:    tid,
				Provider:  s.provider.Name(),
				Text:      res.text,
				Partial:   res.err != nil,
				Timestamp: s.unixMS(),
			})
			select {
			case generateCh <- res:
			case <-s.ctx.Done():
			}
		}(id, epoch, turnUUID, prompt, userText, confidence, source)
		return nil
	}

	startTurn := func(in turnInput) error {
		processing = true
		turnID++
		publishState()
		if in.utterance == nil {
			return beginGeneration(turnID, in.text, 0, "client")
		}
		wg.Add(1)
		go func(id int, u *audio.Utterance) {
			defer wg.Done()
			started := s.now()
			out, err := s.transcriber.Transcribe(s.ctx, u)
			latency := s.now().Sub(started)
			outcome := "ok"
			switch {
			case errors.Is(err, stt.ErrNoSpeech):
				outcome = "no_speech"
			case err != nil:
				outcome = "error"
			}
			s.metrics.RecordTranscription(s.transcriber.Name(), outcome, latency.Seconds())
			select {
			case transcribeCh <- transcribeResult{turnID: id, text: out.Text, confidence: out.Confidence, err: err}:
			case <-s.ctx.Done():
			}
		}(turnID, in.utterance)
		return nil
	}

	// dispatch admits a turn into the pipeline. At most one turn runs
	// at a time and at most one more may wait; anything beyond that is
	// dropped so audio ingestion never blocks on a slow backend.
	dispatch := func(in turnInput) error {
		if !processing {
			return startTurn(in)
		}
		if pending != nil {
			s.metrics.RecordUtteranceDropped("queue_full")
			s.logger.Debug("turn queue full, dropping input")
			return nil
		}
		pending = &in
		return nil
	}

	finishTurn := func() error {
		processing = false
		if pending != nil {
			in := *pending
			pending = nil
			return startTurn(in)
		}
		publishState()
		return nil
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil

		case <-ageCh:
			s.logger.Info("session reached maximum age, closing", "age", s.cfg.MaxSessionAge)
			_ = s.sendJSONPriority("status", protocol.ServerStatus{Type: "status", Content: "session_expired", Message: "Session reached its maximum duration"})
			return flushAndClose()

		case err := <-writerErrCh:
			if err == nil {
				return nil
			}
			s.logger.Debug("websocket write failed", "error", err)
			return err

		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsUnexpectedCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("websocket read failed", "error", frame.err)
				}
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				_ = s.sendJSONPriority("error", protocol.ServerError{Type: "error", Kind: protocol.ErrorKindBadRequest, Message: "binary frames are not supported"})
				return flushAndClose()
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				kind := protocol.ErrorKindBadRequest
				if de, ok := decErr.(*protocol.DecodeError); ok && de.Code != "" {
					kind = de.Code
				}
				_ = s.sendJSONPriority("error", protocol.ServerError{Type: "error", Kind: kind, Message: decErr.Error()})
				return flushAndClose()
			}
			switch m := msg.(type) {
			case protocol.ClientStartListening:
				if !listening {
					listening = true
					s.listening.Store(true)
					s.seg.Reset()
					publishState()
					s.logger.Debug("listening started")
				}
				if err := s.sendJSONPriority("listening_started", protocol.ServerListeningStarted{Type: "listening_started", Message: "Audio listening started"}); err != nil {
					return failChannel()
				}
			case protocol.ClientStopListening:
				if listening {
					listening = false
					s.listening.Store(false)
					s.seg.Reset()
					if pending != nil && pending.utterance != nil {
						pending = nil
						s.metrics.RecordUtteranceDropped("stop_listening")
					}
					publishState()
					s.logger.Debug("listening stopped")
				}
				if err := s.sendJSONPriority("listening_stopped", protocol.ServerListeningStopped{Type: "listening_stopped", Message: "Audio listening stopped"}); err != nil {
					return failChannel()
				}
			case protocol.ClientTextInput:
				if err := dispatch(turnInput{text: m.Content}); err != nil {
					return failChannel()
				}
			case protocol.ClientClearHistory:
				history.clear()
				epoch++
				if err := s.sendJSONPriority("history_cleared", protocol.ServerHistoryCleared{Type: "history_cleared", Message: "Conversation history cleared"}); err != nil {
					return failChannel()
				}
			}

		case f := <-s.frames:
			if !listening {
				continue
			}
			s.metrics.RecordFrame(len(f.Samples) * 2)
			utt := s.seg.Feed(f)
			if utt == nil {
				continue
			}
			closeKind := "silence"
			if utt.Forced {
				closeKind = "forced"
			}
			s.metrics.RecordUtterance(closeKind, utt.Duration().Seconds())
			if err := dispatch(turnInput{utterance: utt}); err != nil {
				return failChannel()
			}

		case res := <-transcribeCh:
			if res.err == nil && strings.TrimSpace(res.text) == "" {
				res.err = stt.ErrNoSpeech
			}
			if res.err != nil {
				switch {
				case errors.Is(res.err, context.Canceled):
					// Session is shutting down; nothing to report.
				case errors.Is(res.err, stt.ErrNoSpeech):
					s.logger.Debug("no speech in utterance", "turn", res.turnID)
					if err := s.sendJSON("error", protocol.ServerError{Type: "error", Kind: protocol.ErrorKindNoSpeechDetected, Message: "No speech detected"}); err != nil {
						return failChannel()
					}
				default:
					s.logger.Warn("transcription failed", "turn", res.turnID, "error", res.err)
					if err := s.sendJSON("error", protocol.ServerError{Type: "error", Kind: protocol.ErrorKindTranscriptionUnavailable, Message: "Transcription is currently unavailable"}); err != nil {
						return failChannel()
					}
				}
				if err := finishTurn(); err != nil {
					return failChannel()
				}
				continue
			}
			if err := beginGeneration(res.turnID, res.text, res.confidence, s.transcriber.Name()); err != nil {
				return failChannel()
			}

		case res := <-generateCh:
			switch {
			case res.err == nil:
				if res.epoch == epoch {
					history.appendAssistant(res.turnUUID, res.text, false, s.now())
				}
				s.metrics.RecordGeneration(s.provider.Name(), "ok", res.duration.Seconds(), res.chunks)
				if err := s.sendJSON("response_complete", protocol.ServerResponseComplete{Type: "response_complete", Content: res.text, Timestamp: s.unixMS()}); err != nil {
					return failChannel()
				}
			case errors.Is(res.err, errBackpressure):
				if res.epoch == epoch {
					history.appendAssistant(res.turnUUID, res.text, true, s.now())
				}
				s.metrics.RecordGeneration(s.provider.Name(), "error", res.duration.Seconds(), res.chunks)
				return failChannel()
			case errors.Is(res.err, context.Canceled):
				// Session is shutting down; the partial result is not
				// reported because nobody is left to read it.
			default:
				if res.epoch == epoch {
					history.appendAssistant(res.turnUUID, res.text, true, s.now())
				}
				s.metrics.RecordGeneration(s.provider.Name(), "interrupted", res.duration.Seconds(), res.chunks)
				s.logger.Warn("generation interrupted", "turn", res.turnID, "chunks", res.chunks, "error", res.err)
				if err := s.sendJSON("error", protocol.ServerError{Type: "error", Kind: protocol.ErrorKindGenerationInterrupted, Message: "Response generation was interrupted"}); err != nil {
					return failChannel()
				}
			}
			if err := finishTurn(); err != nil {
				return failChannel()
			}
		}
	}
}

// runGeneration streams one response from the provider, forwarding
// each chunk to the client as it arrives. The accumulated text travels
// back to the Run loop, which decides what lands in history.
func (s *Session) runGeneration(turnID, epoch int, prompt []llm.Message) generateResult {
	res := generateResult{turnID: turnID, epoch: epoch}

	req := &llm.Request{
		Model:       s.cfg.Model,
		System:      s.cfg.SystemPrompt,
		Messages:    prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
	stream, err := s.provider.Stream(s.ctx, req)
	if err != nil {
		res.err = err
		return res
	}
	defer stream.Close()

	for {
		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res
			}
			res.err = err
			return res
		}
		if chunk.Delta == "" {
			continue
		}
		res.text = chunk.Text
		res.chunks++
		if err := s.sendJSON("response_chunk", protocol.ServerResponseChunk{
			Type:        "response_chunk",
			Content:     chunk.Delta,
			FullContent: chunk.Text,
			Timestamp:   s.unixMS(),
		}); err != nil {
			res.err = err
			return res
		}
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) sendJSON(msgType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.enqueueNormal(outboundFrame{payload: payload}); err != nil {
		s.metrics.RecordOutboundDropped()
		return err
	}
	s.metrics.RecordOutbound(msgType)
	return nil
}

func (s *Session) sendJSONPriority(msgType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.enqueuePriority(outboundFrame{payload: payload}); err != nil {
		s.metrics.RecordOutboundDropped()
		return err
	}
	s.metrics.RecordOutbound(msgType)
	return nil
}

func (s *Session) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Session) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *Session) unixMS() int64 {
	return s.now().UnixMilli()
}
