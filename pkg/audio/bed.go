package audio

import "fmt"

// Bed is the background track handed from acquisition to the compositor.
// It is either present or the explicit "no background" variant, so callers
// never special-case nil segments.
type Bed struct {
	segment *Segment
}

// NoBed returns the variant meaning "mix foreground only".
func NoBed() Bed {
	return Bed{}
}

// NewBed wraps a decoded background segment. Empty segments yield NoBed.
func NewBed(seg *Segment) Bed {
	if seg == nil || seg.Empty() {
		return NoBed()
	}
	return Bed{segment: seg}
}

// Present reports whether the bed carries audio.
func (b Bed) Present() bool {
	return b.segment != nil
}

// Segment returns the background audio, or nil for NoBed.
func (b Bed) Segment() *Segment {
	return b.segment
}

func (b Bed) String() string {
	if !b.Present() {
		return "no background"
	}
	return fmt.Sprintf("background %s %s", b.segment.Format, b.segment.Duration())
}

// Resampler converts a segment to another sample rate and channel layout.
type Resampler interface {
	Resample(seg *Segment, to Format) (*Segment, error)
}

// Conform returns seg in format f, using r when a conversion is needed.
func Conform(seg *Segment, f Format, r Resampler) (*Segment, error) {
	if seg.Format == f {
		return seg, nil
	}
	if r == nil {
		return nil, fmt.Errorf("convert %s to %s without a resampler: %w", seg.Format, f, ErrFormatMismatch)
	}
	out, err := r.Resample(seg, f)
	if err != nil {
		return nil, fmt.Errorf("resample %s to %s: %w", seg.Format, f, err)
	}
	if out.Format != f {
		return nil, fmt.Errorf("resampler produced %s, want %s: %w", out.Format, f, ErrFormatMismatch)
	}
	return out, nil
}
