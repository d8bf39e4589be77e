// Package client implements a Go client for the relay websocket
// protocol. It dials a running relay, sends typed control and text
// messages, and yields everything the server emits as typed events on
// a single ordered channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/voxrelay/pkg/relay/protocol"
)

const defaultDialTimeout = 15 * time.Second

// Session is one live relay connection. Events arrive on Events() in
// the order the server produced them; the channel closes when the
// connection ends.
type Session struct {
	conn *websocket.Conn

	events  chan Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial connects to a relay at rawURL. The scheme may be http(s) or
// ws(s); a bare host or "/" path dials the standard /ws endpoint.
func Dial(ctx context.Context, rawURL string) (*Session, error) {
	wsURL, err := websocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &Session{
		conn:    conn,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events yields the server's messages as typed events. The channel
// closes when the session ends; check Err afterwards.
func (s *Session) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SendText submits one text turn.
func (s *Session) SendText(content string) error {
	if s == nil {
		return errors.New("session must not be nil")
	}
	if strings.TrimSpace(content) == "" {
		return errors.New("content must not be empty")
	}
	return s.sendJSON(protocol.ClientTextInput{Type: "text_input", Content: content})
}

// StartListening asks the relay to segment incoming audio for this
// session.
func (s *Session) StartListening() error {
	return s.sendType("start_listening")
}

// StopListening stops audio segmentation; an in-flight turn still
// completes.
func (s *Session) StopListening() error {
	return s.sendType("stop_listening")
}

// ClearHistory resets the server-side conversation history.
func (s *Session) ClearHistory() error {
	return s.sendType("clear_history")
}

func (s *Session) sendType(typ string) error {
	if s == nil {
		return errors.New("session must not be nil")
	}
	return s.sendJSON(struct {
		Type string `json:"type"`
	}{Type: typ})
}

func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return errors.New("session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close sends a close frame, tears down the connection, and waits for
// the read loop to finish. Safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err reports the terminal transport error, if any. It blocks until
// the session has ended. A server-initiated normal close and a local
// Close both report nil.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if s.closed.Load() {
				return
			}
			s.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		event, err := decodeServerFrame(data)
		if err != nil {
			s.setErr(err)
			return
		}
		s.emit(event)
	}
}

// emit blocks until the consumer takes the event, so no server
// message is ever silently dropped; Close unblocks a stalled emit.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url scheme %q is not supported", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
