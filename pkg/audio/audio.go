// Package audio provides the PCM frame types, energy-based utterance
// segmentation, and capture sources used by the relay's audio pipeline.
package audio

import (
	"encoding/binary"
	"time"
)

// Frame is a fixed-size block of mono PCM samples tagged with its
// arrival sequence number. Frames are transient: the segmenter consumes
// them on Feed and never retains the slice.
type Frame struct {
	Seq     uint64
	Samples []int16
}

// Energy returns the mean absolute amplitude of the frame. An empty
// frame has zero energy.
func (f Frame) Energy() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(f.Samples))
}

// Utterance is a contiguous span of speech-bearing audio bounded by
// silence, ready to hand to a transcription backend. The sample slice
// is owned by the receiver once emitted.
type Utterance struct {
	Samples    []int16
	SampleRate int
	FirstSeq   uint64
	LastSeq    uint64

	// Forced marks an utterance closed by the max-duration cap rather
	// than by detected silence.
	Forced bool
}

// Duration reports the audio length implied by the sample count.
func (u *Utterance) Duration() time.Duration {
	if u == nil || u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// PCM encodes the samples as little-endian 16-bit PCM, the layout the
// transcription backends accept.
func (u *Utterance) PCM() []byte {
	if u == nil {
		return nil
	}
	out := make([]byte, 2*len(u.Samples))
	for i, s := range u.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodePCM converts little-endian 16-bit PCM bytes back into samples.
// A trailing odd byte is dropped.
func DecodePCM(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
