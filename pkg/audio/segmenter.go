package audio

import (
	"fmt"
	"time"
)

// Segmentation defaults. Tuned for 16 kHz mono microphone capture.
const (
	DefaultSampleRate      = 16000
	DefaultThreshold       = 200.0
	DefaultSilenceDuration = 1500 * time.Millisecond
	DefaultMaxDuration     = 30 * time.Second
)

// SegmenterConfig controls the energy-based silence detection policy.
// Zero values fall back to the package defaults.
type SegmenterConfig struct {
	// SampleRate is the PCM sample rate of incoming frames in Hz.
	SampleRate int

	// Threshold is the mean absolute amplitude at or above which a
	// frame counts as speech.
	Threshold float64

	// SilenceDuration is how long energy must stay below Threshold
	// before an open utterance is closed and emitted.
	SilenceDuration time.Duration

	// MaxDuration force-closes an utterance that keeps accumulating
	// speech, bounding buffered memory and end-to-end latency.
	MaxDuration time.Duration
}

// Segmenter turns a stream of frames into discrete utterances. It is
// purely in-memory and deterministic: the same frame sequence with the
// same configuration always yields the same utterances. It is not safe
// for concurrent use; the session coordinator feeds it from a single
// goroutine.
type Segmenter struct {
	cfg          SegmenterConfig
	silenceLimit int
	maxSamples   int

	open     bool
	speech   []int16
	pending  []int16
	firstSeq uint64
	lastSeq  uint64
}

// NewSegmenter validates cfg, applies defaults for zero fields, and
// returns a segmenter in the closed state.
func NewSegmenter(cfg SegmenterConfig) (*Segmenter, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.SampleRate < 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("energy threshold must be non-negative, got %v", cfg.Threshold)
	}
	if cfg.SilenceDuration < 0 || cfg.MaxDuration < 0 {
		return nil, fmt.Errorf("silence and max durations must be positive")
	}
	if cfg.MaxDuration <= cfg.SilenceDuration {
		return nil, fmt.Errorf("max duration %v must exceed silence duration %v", cfg.MaxDuration, cfg.SilenceDuration)
	}
	return &Segmenter{
		cfg:          cfg,
		silenceLimit: int(cfg.SilenceDuration * time.Duration(cfg.SampleRate) / time.Second),
		maxSamples:   int(cfg.MaxDuration * time.Duration(cfg.SampleRate) / time.Second),
	}, nil
}

// Feed ingests one frame and returns the utterance it closed, or nil.
// Leading silence is dropped, trailing silence is trimmed from the
// emitted buffer, and pauses shorter than the silence window are kept
// inside the utterance. An emitted utterance is never empty.
func (s *Segmenter) Feed(f Frame) *Utterance {
	if len(f.Samples) == 0 {
		return nil
	}
	loud := f.Energy() >= s.cfg.Threshold
	if !s.open {
		if !loud {
			return nil
		}
		s.open = true
		s.firstSeq = f.Seq
		s.lastSeq = f.Seq
		s.speech = append([]int16(nil), f.Samples...)
		s.pending = s.pending[:0]
		if len(s.speech) >= s.maxSamples {
			return s.close(true)
		}
		return nil
	}
	if loud {
		s.speech = append(s.speech, s.pending...)
		s.pending = s.pending[:0]
		s.speech = append(s.speech, f.Samples...)
		s.lastSeq = f.Seq
		if len(s.speech) >= s.maxSamples {
			return s.close(true)
		}
		return nil
	}
	s.pending = append(s.pending, f.Samples...)
	if len(s.pending) >= s.silenceLimit {
		return s.close(false)
	}
	return nil
}

// Open reports whether an utterance is currently accumulating.
func (s *Segmenter) Open() bool {
	return s.open
}

// Reset discards any open utterance and buffered silence. The
// configuration is retained.
func (s *Segmenter) Reset() {
	s.open = false
	s.speech = nil
	s.pending = s.pending[:0]
}

func (s *Segmenter) close(forced bool) *Utterance {
	u := &Utterance{
		Samples:    s.speech,
		SampleRate: s.cfg.SampleRate,
		FirstSeq:   s.firstSeq,
		LastSeq:    s.lastSeq,
		Forced:     forced,
	}
	s.open = false
	s.speech = nil
	s.pending = s.pending[:0]
	return u
}
