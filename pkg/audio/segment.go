// Package audio holds the in-memory representation of decoded audio used by
// every stage of the workout pipeline.
//
// A Segment is interleaved float PCM in the range [-1, 1]. Operations never
// mutate their receiver: they return a fresh Segment, so producers can hand
// ownership to the compositor without coordinating.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Common formats.
var (
	FormatCD     = Format{SampleRate: 44100, Channels: 2}
	FormatSpeech = Format{SampleRate: 24000, Channels: 1}
)

// ErrFormatMismatch is returned when two segments in different formats are combined.
var ErrFormatMismatch = errors.New("audio format mismatch")

// Format describes the sample layout of a Segment.
type Format struct {
	SampleRate int // Hz
	Channels   int // 1 for mono, 2 for stereo
}

// Valid reports whether the format can carry samples.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// FramesFor returns the number of frames spanning d, rounded to the nearest frame.
func (f Format) FramesFor(d time.Duration) int {
	return int(math.Round(d.Seconds() * float64(f.SampleRate)))
}

// Segment is a decoded audio buffer.
type Segment struct {
	Format
	Samples []float32 // interleaved, len == Frames()*Channels
}

// NewSegment wraps samples in a Segment. The slice is not copied.
func NewSegment(f Format, samples []float32) *Segment {
	return &Segment{Format: f, Samples: samples}
}

// Silence returns a zeroed segment of the given number of frames.
func Silence(f Format, frames int) *Segment {
	if frames < 0 {
		frames = 0
	}
	return &Segment{Format: f, Samples: make([]float32, frames*f.Channels)}
}

// SilenceFor returns a zeroed segment lasting d.
func SilenceFor(f Format, d time.Duration) *Segment {
	return Silence(f, f.FramesFor(d))
}

// Frames returns the number of sample frames.
func (s *Segment) Frames() int {
	if s == nil || s.Channels == 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// Duration returns the playback length.
func (s *Segment) Duration() time.Duration {
	if s == nil || s.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(s.Frames()) / float64(s.SampleRate) * float64(time.Second))
}

// Empty reports whether the segment has no frames.
func (s *Segment) Empty() bool {
	return s.Frames() == 0
}

// Clone returns a deep copy.
func (s *Segment) Clone() *Segment {
	out := make([]float32, len(s.Samples))
	copy(out, s.Samples)
	return &Segment{Format: s.Format, Samples: out}
}

// Slice returns frames [from, to) as a new segment. Bounds are clamped.
func (s *Segment) Slice(from, to int) *Segment {
	n := s.Frames()
	from = clamp(from, 0, n)
	to = clamp(to, from, n)
	out := make([]float32, (to-from)*s.Channels)
	copy(out, s.Samples[from*s.Channels:to*s.Channels])
	return &Segment{Format: s.Format, Samples: out}
}

// Concat joins segments in order. All segments must share one format.
func Concat(f Format, segs ...*Segment) (*Segment, error) {
	total := 0
	for i, seg := range segs {
		if seg == nil {
			continue
		}
		if seg.Format != f {
			return nil, fmt.Errorf("segment %d is %s, want %s: %w", i, seg.Format, f, ErrFormatMismatch)
		}
		total += len(seg.Samples)
	}
	out := make([]float32, 0, total)
	for _, seg := range segs {
		if seg != nil {
			out = append(out, seg.Samples...)
		}
	}
	return &Segment{Format: f, Samples: out}, nil
}

// Loop repeats the segment back to back until it covers exactly frames
// frames, truncating the last repetition. Longer segments are truncated.
func (s *Segment) Loop(frames int) *Segment {
	if frames <= 0 || s.Empty() {
		return Silence(s.Format, frames)
	}
	want := frames * s.Channels
	out := make([]float32, want)
	for off := 0; off < want; off += len(s.Samples) {
		copy(out[off:], s.Samples)
	}
	return &Segment{Format: s.Format, Samples: out}
}

// Gain returns a copy scaled by the given gain in decibels.
func (s *Segment) Gain(db float64) *Segment {
	return s.Scale(DBToLinear(db))
}

// Scale returns a copy with every sample multiplied by factor.
func (s *Segment) Scale(factor float64) *Segment {
	return s.Clone().ScaleInPlace(factor)
}

// GainInPlace scales s by db decibels and returns s.
func (s *Segment) GainInPlace(db float64) *Segment {
	return s.ScaleInPlace(DBToLinear(db))
}

// ScaleInPlace multiplies every sample by factor and returns s.
func (s *Segment) ScaleInPlace(factor float64) *Segment {
	f := float32(factor)
	for i := range s.Samples {
		s.Samples[i] *= f
	}
	return s
}

// Peak returns the largest absolute sample value.
func (s *Segment) Peak() float64 {
	var peak float32
	for _, v := range s.Samples {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak)
}

// Overlay sums other onto a copy of s starting at frame offset. Samples of
// other that fall past the end of s are dropped.
func (s *Segment) Overlay(other *Segment, offset int) (*Segment, error) {
	out := s.Clone()
	if err := out.MixIn(other, offset); err != nil {
		return nil, err
	}
	return out, nil
}

// MixIn adds other into s starting at frame offset. Samples of other that
// fall past the end of s are dropped.
func (s *Segment) MixIn(other *Segment, offset int) error {
	if other.Format != s.Format {
		return fmt.Errorf("overlay %s onto %s: %w", other.Format, s.Format, ErrFormatMismatch)
	}
	if offset < 0 || offset >= s.Frames() {
		return nil
	}
	dst := s.Samples[offset*s.Channels:]
	n := min(len(other.Samples), len(dst))
	for i := 0; i < n; i++ {
		dst[i] += other.Samples[i]
	}
	return nil
}

// Clip returns a copy hard-limited to [-1, 1].
func (s *Segment) Clip() *Segment {
	return s.Clone().ClipInPlace()
}

// ClipInPlace hard-limits every sample of s to [-1, 1] and returns s.
func (s *Segment) ClipInPlace() *Segment {
	for i, v := range s.Samples {
		switch {
		case v > 1:
			s.Samples[i] = 1
		case v < -1:
			s.Samples[i] = -1
		}
	}
	return s
}

// DBToLinear converts decibels to an amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts an amplitude factor to decibels.
func LinearToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
