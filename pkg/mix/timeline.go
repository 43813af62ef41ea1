// Package mix lays the spoken instructions out on a timeline and mixes the
// result with the background bed.
package mix

import (
	"fmt"
	"time"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// Kind classifies timeline entries.
type Kind int

const (
	KindSpeech Kind = iota
	KindCountdown
	KindSilence
)

func (k Kind) String() string {
	switch k {
	case KindSpeech:
		return "speech"
	case KindCountdown:
		return "countdown"
	case KindSilence:
		return "silence"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry is one placed piece of the foreground. Offset and Frames are in
// frames of the timeline format. Silence entries carry no segment.
type Entry struct {
	Kind        Kind
	Instruction int
	Offset      int
	Frames      int
	Segment     *audio.Segment
}

// End returns the frame just past the entry.
func (e Entry) End() int {
	return e.Offset + e.Frames
}

// Clip is the audio produced for one instruction.
type Clip struct {
	Speech    *audio.Segment
	Countdown *audio.Segment // nil when the policy planned none
	Placement Placement
}

// Slot is the span one instruction occupies on the timeline.
type Slot struct {
	Offset    int
	Frames    int
	Requested int  // frames the instruction asked for
	Overrun   bool // speech and countdown did not fit in the requested duration
}

// Timeline is the laid-out foreground.
type Timeline struct {
	Format  audio.Format
	Entries []Entry
	Slots   []Slot
	Frames  int
}

// Duration returns the foreground length.
func (t *Timeline) Duration() time.Duration {
	if t.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(t.Frames) / float64(t.Format.SampleRate) * float64(time.Second))
}

// Overruns counts the slots that grew past their requested duration.
func (t *Timeline) Overruns() int {
	n := 0
	for _, s := range t.Slots {
		if s.Overrun {
			n++
		}
	}
	return n
}

// TargetFormat returns the highest sample rate and channel count among the
// clips and the bed.
func TargetFormat(clips []Clip, bed audio.Bed) audio.Format {
	var f audio.Format
	widen := func(seg *audio.Segment) {
		if seg == nil || seg.Empty() {
			return
		}
		if seg.SampleRate > f.SampleRate {
			f.SampleRate = seg.SampleRate
		}
		if seg.Channels > f.Channels {
			f.Channels = seg.Channels
		}
	}
	for _, c := range clips {
		widen(c.Speech)
		widen(c.Countdown)
	}
	if bed.Present() {
		widen(bed.Segment())
	}
	return f
}

// BuildTimeline places every instruction in its own slot of exactly
// DurationSeconds. Within a slot a leading countdown comes first, then the
// speech, then silence; a trailing countdown ends on the slot boundary.
// When speech and countdown together are longer than the slot, the slot
// grows to fit them and the padding is zero. Segments not in format f are
// converted with r.
func BuildTimeline(f audio.Format, instructions []workout.Instruction, clips []Clip, r audio.Resampler) (*Timeline, error) {
	if !f.Valid() {
		return nil, &MixError{Op: "timeline", Instruction: -1, Err: fmt.Errorf("invalid target format %s", f)}
	}
	if len(clips) != len(instructions) {
		return nil, &MixError{Op: "timeline", Instruction: -1,
			Err: fmt.Errorf("%d clips for %d instructions", len(clips), len(instructions))}
	}

	tl := &Timeline{Format: f, Slots: make([]Slot, 0, len(instructions))}
	cursor := 0
	for i, in := range instructions {
		speech, err := conform(clips[i].Speech, f, r)
		if err != nil {
			return nil, &MixError{Op: "conform speech", Instruction: i, Err: err}
		}
		countdown, err := conform(clips[i].Countdown, f, r)
		if err != nil {
			return nil, &MixError{Op: "conform countdown", Instruction: i, Err: err}
		}

		requested := in.DurationSeconds * f.SampleRate
		content := speech.Frames() + countdown.Frames()
		slot := Slot{Offset: cursor, Frames: requested, Requested: requested}
		if content > requested {
			slot.Frames = content
			slot.Overrun = true
		}
		pad := slot.Frames - content

		pos := cursor
		place := func(kind Kind, seg *audio.Segment, frames int) {
			if frames <= 0 {
				return
			}
			tl.Entries = append(tl.Entries, Entry{Kind: kind, Instruction: i, Offset: pos, Frames: frames, Segment: seg})
			pos += frames
		}
		if clips[i].Placement == PlacementLeading {
			place(KindCountdown, countdown, countdown.Frames())
			place(KindSpeech, speech, speech.Frames())
			place(KindSilence, nil, pad)
		} else {
			place(KindSpeech, speech, speech.Frames())
			place(KindSilence, nil, pad)
			place(KindCountdown, countdown, countdown.Frames())
		}

		tl.Slots = append(tl.Slots, slot)
		cursor += slot.Frames
	}
	tl.Frames = cursor
	return tl, nil
}

// conform converts seg to f. A nil segment becomes an empty one.
func conform(seg *audio.Segment, f audio.Format, r audio.Resampler) (*audio.Segment, error) {
	if seg == nil || seg.Empty() {
		return audio.Silence(f, 0), nil
	}
	return audio.Conform(seg, f, r)
}

// Render writes the foreground into a single segment.
func (t *Timeline) Render() *audio.Segment {
	out := audio.Silence(t.Format, t.Frames)
	ch := t.Format.Channels
	for _, e := range t.Entries {
		if e.Segment == nil {
			continue
		}
		copy(out.Samples[e.Offset*ch:e.End()*ch], e.Segment.Samples)
	}
	return out
}
