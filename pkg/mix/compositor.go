package mix

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/loudness"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// DefaultBedGainDB is how far the bed sits under the foreground after
// level matching.
const DefaultBedGainDB = -10.0

// MixError is an unresolvable compositing failure, such as a format
// mismatch no resampler could fix.
type MixError struct {
	Op          string
	Instruction int // -1 when not tied to one instruction
	Err         error
}

func (e *MixError) Error() string {
	if e.Instruction >= 0 {
		return fmt.Sprintf("mix: %s (instruction %d): %v", e.Op, e.Instruction, e.Err)
	}
	return fmt.Sprintf("mix: %s: %v", e.Op, e.Err)
}

func (e *MixError) Unwrap() error {
	return e.Err
}

// Result is the mixed signal and how it was made.
type Result struct {
	Segment        *audio.Segment
	Timeline       *Timeline
	BedUsed        bool
	ForegroundLUFS float64
	BedGainDB      float64 // total gain applied to the bed, 0 without one
}

// Compositor mixes a foreground timeline with the background bed.
type Compositor struct {
	Resampler audio.Resampler
	BedGainDB float64
	Logger    hclog.Logger
}

// NewCompositor returns a compositor with the default bed gain.
func NewCompositor(r audio.Resampler) *Compositor {
	return &Compositor{Resampler: r, BedGainDB: DefaultBedGainDB}
}

func (c *Compositor) logger() hclog.Logger {
	return logger.OrNull(c.Logger).Named("mix")
}

// Compose builds the timeline in the widest format present and mixes it
// with the bed.
func (c *Compositor) Compose(instructions []workout.Instruction, clips []Clip, bed audio.Bed) (*Result, error) {
	tl, err := BuildTimeline(TargetFormat(clips, bed), instructions, clips, c.Resampler)
	if err != nil {
		return nil, err
	}
	return c.Composite(tl, bed)
}

// Composite renders the timeline and, when a bed is present, loops or
// truncates it to exactly the foreground length, matches its loudness to
// the foreground offset by BedGainDB, and sums the two. The foreground is
// never attenuated. The working set is the rendered foreground plus one
// bed-length buffer.
func (c *Compositor) Composite(tl *Timeline, bed audio.Bed) (*Result, error) {
	if tl == nil || !tl.Format.Valid() {
		return nil, &MixError{Op: "composite", Instruction: -1, Err: fmt.Errorf("empty timeline")}
	}
	fg := tl.Render()
	res := &Result{Segment: fg, Timeline: tl, ForegroundLUFS: loudness.Integrated(fg)}
	log := c.logger()

	if !bed.Present() || fg.Empty() {
		log.Debug("foreground only", "duration", tl.Duration(), "entries", len(tl.Entries))
		return res, nil
	}

	music, err := audio.Conform(bed.Segment(), tl.Format, c.Resampler)
	if err != nil {
		return nil, &MixError{Op: "conform bed", Instruction: -1, Err: err}
	}
	// Loop always copies, so the bed can be leveled in place and summed
	// into the foreground, which Render allocated for this call.
	music = music.Loop(fg.Frames())

	res.BedGainDB = loudness.MatchGain(music, res.ForegroundLUFS, c.BedGainDB)
	music.GainInPlace(res.BedGainDB)

	if err := fg.MixIn(music, 0); err != nil {
		return nil, &MixError{Op: "sum", Instruction: -1, Err: err}
	}
	res.BedUsed = true
	log.Debug("mixed with background",
		"duration", tl.Duration(),
		"foreground_lufs", res.ForegroundLUFS,
		"bed_gain_db", res.BedGainDB)
	return res, nil
}
