// Package capture runs the server-side microphone pipeline: it pumps
// frames from an audio source into a sink (the session fan-out) and
// exposes the start/stop surface the HTTP endpoints drive.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/audio"
)

// ErrUnavailable is returned by Start when no capture source is
// configured, typically because ffmpeg is missing on the host.
var ErrUnavailable = errors.New("audio capture unavailable")

// SourceFactory opens a fresh capture source. Sources are single-use,
// so every start opens a new one.
type SourceFactory func() (audio.Source, error)

// Controller owns at most one running capture pump. Start and Stop are
// idempotent and safe for concurrent use by HTTP handlers.
type Controller struct {
	newSource SourceFactory
	sink      func(audio.Frame)
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewController(newSource SourceFactory, sink func(audio.Frame), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(audio.Frame) {}
	}
	return &Controller{newSource: newSource, sink: sink, logger: logger}
}

// Available reports whether a capture source is configured at all.
func (c *Controller) Available() bool {
	return c != nil && c.newSource != nil
}

// Running reports whether the pump is currently capturing.
func (c *Controller) Running() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start opens a source and begins pumping frames into the sink. A
// second Start while running is a no-op.
func (c *Controller) Start() error {
	if c == nil || c.newSource == nil {
		return ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	src, err := c.newSource()
	if err != nil {
		return fmt.Errorf("open capture source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		_ = src.Close()
		return fmt.Errorf("start capture source: %w", err)
	}

	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running = true
	go c.pump(ctx, src, done)
	c.logger.Info("audio capture started")
	return nil
}

// Stop halts the pump and waits for it to exit. Stopping a stopped
// controller is a no-op.
func (c *Controller) Stop() {
	if c == nil {
		return
	}

	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.running = false
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
	c.logger.Info("audio capture stopped")
}

func (c *Controller) pump(ctx context.Context, src audio.Source, done chan struct{}) {
	defer close(done)
	defer src.Close()

	for {
		frame, err := src.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("capture source drained")
			} else {
				c.logger.Warn("capture read failed", "error", err)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.sink(frame)
	}

	c.mu.Lock()
	if c.done == done {
		c.running = false
		c.cancel = nil
		c.done = nil
	}
	c.mu.Unlock()
}
