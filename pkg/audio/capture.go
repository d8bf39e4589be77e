package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// DefaultFrameSamples is the capture frame size in samples, about a
// quarter second at the default sample rate.
const DefaultFrameSamples = 4096

// Source produces PCM frames from some audio input. Implementations
// are read by a single goroutine; ReadFrame returns io.EOF once the
// source is exhausted or closed.
type Source interface {
	Start(ctx context.Context) error
	ReadFrame() (Frame, error)
	Close() error
}

// FFmpegConfig configures microphone capture through an ffmpeg
// subprocess writing raw s16le PCM to its stdout.
type FFmpegConfig struct {
	// SampleRate in Hz. Defaults to DefaultSampleRate.
	SampleRate int

	// FrameSamples is the number of samples per emitted frame.
	// Defaults to DefaultFrameSamples.
	FrameSamples int

	// Input overrides the platform default capture device.
	Input string

	// Path overrides the ffmpeg binary looked up on PATH.
	Path string
}

// FFmpegSource captures microphone audio by spawning ffmpeg against
// the platform's default input device.
type FFmpegSource struct {
	cfg FFmpegConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	seq    uint64
	buf    []byte
}

// NewFFmpegSource returns an unstarted capture source. The ffmpeg
// binary is not located until Start.
func NewFFmpegSource(cfg FFmpegConfig) *FFmpegSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	return &FFmpegSource{cfg: cfg}
}

func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return errors.New("capture already started")
	}
	if _, err := exec.LookPath(s.cfg.Path); err != nil {
		return fmt.Errorf("ffmpeg is required for microphone capture: %w", err)
	}
	args, err := captureArgs(runtime.GOOS, s.cfg)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, s.cfg.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg capture: %w", err)
	}
	s.cmd = cmd
	s.stdout = stdout
	s.buf = make([]byte, 2*s.cfg.FrameSamples)
	return nil
}

func (s *FFmpegSource) ReadFrame() (Frame, error) {
	s.mu.Lock()
	stdout := s.stdout
	s.mu.Unlock()
	if stdout == nil {
		return Frame{}, io.EOF
	}
	n, err := io.ReadFull(stdout, s.buf)
	if err != nil {
		if (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)) && n >= 2 {
			f := Frame{Seq: s.seq, Samples: DecodePCM(s.buf[:n])}
			s.seq++
			return f, nil
		}
		return Frame{}, io.EOF
	}
	f := Frame{Seq: s.seq, Samples: DecodePCM(s.buf)}
	s.seq++
	return f, nil
}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.stdout = nil
	return nil
}

func captureArgs(goos string, cfg FFmpegConfig) ([]string, error) {
	rate := fmt.Sprintf("%d", cfg.SampleRate)
	switch goos {
	case "darwin":
		input := cfg.Input
		if input == "" {
			input = ":0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", input,
			"-ac", "1", "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	case "linux":
		input := cfg.Input
		if input == "" {
			input = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", input,
			"-ac", "1", "-ar", rate,
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

// StaticSource replays a fixed sample buffer as frames, optionally
// pacing delivery to simulate real-time capture. It backs tests and
// the demo capture mode.
type StaticSource struct {
	SampleRate   int
	FrameSamples int

	// Interval, when positive, is the delay before each frame.
	Interval time.Duration

	mu      sync.Mutex
	samples []int16
	off     int
	seq     uint64
	started bool
	closed  bool
}

// NewStaticSource returns a source that replays samples at rate Hz in
// frames of frameSamples.
func NewStaticSource(samples []int16, rate, frameSamples int) *StaticSource {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &StaticSource{
		SampleRate:   rate,
		FrameSamples: frameSamples,
		samples:      append([]int16(nil), samples...),
	}
}

func (s *StaticSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("capture already started")
	}
	s.started = true
	return nil
}

func (s *StaticSource) ReadFrame() (Frame, error) {
	if s.Interval > 0 {
		time.Sleep(s.Interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.off >= len(s.samples) {
		return Frame{}, io.EOF
	}
	end := s.off + s.FrameSamples
	if end > len(s.samples) {
		end = len(s.samples)
	}
	f := Frame{Seq: s.seq, Samples: s.samples[s.off:end]}
	s.off = end
	s.seq++
	return f, nil
}

func (s *StaticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
