// Command voxrelay-chat is a terminal client for a running relay. It
// sends typed messages over the websocket protocol, streams response
// chunks to stdout as they arrive, and exposes the listening and
// history controls as slash commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxrelay/voxrelay/client"
)

const (
	defaultRelayURL    = "http://localhost:8000"
	defaultTurnTimeout = 90 * time.Second
)

type chatConfig struct {
	URL     string
	Timeout time.Duration
}

func parseChatConfig(args []string, getenv func(string) string) (chatConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	urlDefault := strings.TrimSpace(getenv("VOXRELAY_URL"))
	if urlDefault == "" {
		urlDefault = defaultRelayURL
	}

	cfg := chatConfig{}
	fs := flag.NewFlagSet("voxrelay-chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.URL, "url", urlDefault, "relay base URL (or VOXRELAY_URL)")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTurnTimeout, "per-turn wait timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return chatConfig{}, err
	}

	if err := validateChatConfig(cfg); err != nil {
		return chatConfig{}, err
	}
	return cfg, nil
}

func validateChatConfig(cfg chatConfig) error {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return errors.New("url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return errors.New("url must be a valid absolute URL")
	}
	if u.User != nil {
		return errors.New("url must not include credentials")
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	return nil
}

// relaySession is the slice of client.Session the prompt loop drives.
type relaySession interface {
	SendText(content string) error
	StartListening() error
	StopListening() error
	ClearHistory() error
}

func handleSlashCommand(line string, sess relaySession) (handled bool, err error) {
	if sess == nil {
		return false, errors.New("session must not be nil")
	}

	switch line {
	case "/listen":
		return true, sess.StartListening()
	case "/stop":
		return true, sess.StopListening()
	case "/clear":
		return true, sess.ClearHistory()
	default:
		return false, nil
	}
}

// lockedWriter serializes writes from the prompt loop and the event
// printer, which share the same terminal.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func signalTurn(turnDone chan<- struct{}) {
	if turnDone == nil {
		return
	}
	select {
	case turnDone <- struct{}{}:
	default:
	}
}

func ackLine(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}

// printEvents renders server events until the event channel closes. It
// signals turnDone whenever a turn reaches a terminal event so the
// prompt loop can resume.
func printEvents(events <-chan client.Event, turnDone chan<- struct{}, out, errOut io.Writer) {
	sawDelta := false
	for ev := range events {
		switch ev := ev.(type) {
		case client.TranscriptionEvent:
			fmt.Fprintf(out, "[you] %s\n", ev.Content)
		case client.StatusEvent:
			if ev.Content == "session_expired" {
				fmt.Fprintf(errOut, "session expired: %s\n", ev.Message)
			}
		case client.ResponseChunkEvent:
			sawDelta = true
			fmt.Fprint(out, ev.Delta)
		case client.ResponseCompleteEvent:
			if !sawDelta && ev.Text != "" {
				fmt.Fprint(out, ev.Text)
			}
			fmt.Fprintln(out)
			sawDelta = false
			signalTurn(turnDone)
		case client.ErrorEvent:
			if sawDelta {
				fmt.Fprintln(out)
				sawDelta = false
			}
			fmt.Fprintf(errOut, "relay error (%s): %s\n", ev.Kind, ev.Message)
			signalTurn(turnDone)
		case client.ListeningStartedEvent:
			fmt.Fprintln(out, ackLine(ev.Message, "listening started"))
		case client.ListeningStoppedEvent:
			fmt.Fprintln(out, ackLine(ev.Message, "listening stopped"))
		case client.HistoryClearedEvent:
			fmt.Fprintln(out, ackLine(ev.Message, "history cleared"))
		}
	}
}

func runChat(ctx context.Context, cfg chatConfig, in io.Reader, out io.Writer, errOut io.Writer) error {
	if err := validateChatConfig(cfg); err != nil {
		return err
	}
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	out = &lockedWriter{w: out}
	errOut = &lockedWriter{w: errOut}

	sess, err := client.Dial(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}

	fmt.Fprintf(out, "Connected to %s\n", cfg.URL)
	fmt.Fprintln(out, "Type a message and press enter. /listen and /stop toggle audio capture, /clear resets history.")
	fmt.Fprintln(out, "Type /exit or /quit to stop.")

	turnDone := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(sess.Events(), turnDone, out, errOut)
	}()

	scanner := bufio.NewScanner(in)
	var loopErr error
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				loopErr = fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/exit", "/quit":
			fmt.Fprintln(out, "bye")
			_ = sess.Close()
			<-done
			return nil
		}

		if handled, err := handleSlashCommand(line, sess); err != nil {
			loopErr = fmt.Errorf("send command: %w", err)
			break
		} else if handled {
			continue
		}

		// Drop any turn token left over from a voice-driven turn.
		select {
		case <-turnDone:
		default:
		}
		if err := sess.SendText(line); err != nil {
			loopErr = fmt.Errorf("send message: %w", err)
			break
		}
		select {
		case <-turnDone:
		case <-done:
		case <-time.After(cfg.Timeout):
			fmt.Fprintf(errOut, "no response within %v\n", cfg.Timeout)
		}
	}

	_ = sess.Close()
	<-done
	if loopErr != nil {
		return loopErr
	}
	return sess.Err()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxrelay-chat: load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseChatConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxrelay-chat: %v\n", err)
		os.Exit(1)
	}

	if err := runChat(context.Background(), cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "voxrelay-chat: %v\n", err)
		os.Exit(1)
	}
}
