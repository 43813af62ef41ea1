package mix

import (
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/loudness"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

var mono8k = audio.Format{SampleRate: 8000, Channels: 1}

func tone(f audio.Format, seconds, amp float64) *audio.Segment {
	frames := int(seconds * float64(f.SampleRate))
	seg := audio.Silence(f, frames)
	for i := 0; i < frames; i++ {
		v := float32(amp * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate)))
		for c := 0; c < f.Channels; c++ {
			seg.Samples[i*f.Channels+c] = v
		}
	}
	return seg
}

// nearest converts formats by nearest-neighbour sampling.
type nearest struct{}

func (nearest) Resample(seg *audio.Segment, to audio.Format) (*audio.Segment, error) {
	frames := int(math.Round(float64(seg.Frames()) * float64(to.SampleRate) / float64(seg.SampleRate)))
	out := audio.Silence(to, frames)
	for i := 0; i < frames; i++ {
		src := i * seg.SampleRate / to.SampleRate
		for c := 0; c < to.Channels; c++ {
			sc := min(c, seg.Channels-1)
			out.Samples[i*to.Channels+c] = seg.Samples[src*seg.Channels+sc]
		}
	}
	return out, nil
}

func warmupRun() []workout.Instruction {
	return []workout.Instruction{
		{Text: "Warm-up", DurationSeconds: 60},
		{Text: "Run", DurationSeconds: 30},
	}
}

func TestThresholdPolicy(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		duration  int
		wantCount int
	}{
		{10, 0},
		{14, 0},
		{15, 5},
		{60, 5},
	}
	for _, tt := range tests {
		count, placement := p.Plan(0, workout.Instruction{Text: "x", DurationSeconds: tt.duration})
		assert.Equal(t, tt.wantCount, count, "duration %d", tt.duration)
		assert.Equal(t, PlacementTrailing, placement)
	}

	count, _ := ThresholdPolicy{Count: 0, MinSeconds: 0}.Plan(0, workout.Instruction{DurationSeconds: 100})
	assert.Zero(t, count)

	count, _ = NoCountdown.Plan(3, workout.Instruction{DurationSeconds: 600})
	assert.Zero(t, count)
}

func TestParsePlacement(t *testing.T) {
	for in, want := range map[string]Placement{
		"leading":  PlacementLeading,
		"Before":   PlacementLeading,
		"trailing": PlacementTrailing,
		" after ":  PlacementTrailing,
		"":         PlacementTrailing,
	} {
		got, err := ParsePlacement(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePlacement("sideways")
	assert.Error(t, err)
	assert.Equal(t, "leading", PlacementLeading.String())
}

func TestBuildTimelineTrailingCountdown(t *testing.T) {
	clips := []Clip{
		{Speech: tone(mono8k, 2, 0.5), Countdown: tone(mono8k, 5, 0.5), Placement: PlacementTrailing},
		{Speech: tone(mono8k, 1, 0.5)},
	}

	tl, err := BuildTimeline(mono8k, warmupRun(), clips, nil)
	require.NoError(t, err)

	want := []struct {
		kind        Kind
		instruction int
		offset      int
		frames      int
	}{
		{KindSpeech, 0, 0, 16000},
		{KindSilence, 0, 16000, 424000},
		{KindCountdown, 0, 440000, 40000},
		{KindSpeech, 1, 480000, 8000},
		{KindSilence, 1, 488000, 232000},
	}
	require.Len(t, tl.Entries, len(want))
	for i, w := range want {
		e := tl.Entries[i]
		assert.Equal(t, w.kind, e.Kind, "entry %d", i)
		assert.Equal(t, w.instruction, e.Instruction, "entry %d", i)
		assert.Equal(t, w.offset, e.Offset, "entry %d", i)
		assert.Equal(t, w.frames, e.Frames, "entry %d", i)
	}
	assert.Equal(t, 90*8000, tl.Frames)
	assert.Equal(t, 90.0, tl.Duration().Seconds())
	assert.Zero(t, tl.Overruns())
	assert.Equal(t, 480000, tl.Entries[2].End(), "trailing countdown ends on the slot boundary")
}

func TestBuildTimelineLeadingCountdown(t *testing.T) {
	clips := []Clip{
		{Speech: tone(mono8k, 2, 0.5), Countdown: tone(mono8k, 5, 0.5), Placement: PlacementLeading},
		{Speech: tone(mono8k, 1, 0.5)},
	}
	tl, err := BuildTimeline(mono8k, warmupRun(), clips, nil)
	require.NoError(t, err)

	assert.Equal(t, KindCountdown, tl.Entries[0].Kind)
	assert.Equal(t, 0, tl.Entries[0].Offset)
	assert.Equal(t, KindSpeech, tl.Entries[1].Kind)
	assert.Equal(t, 40000, tl.Entries[1].Offset)
	assert.Equal(t, KindSilence, tl.Entries[2].Kind)
	assert.Equal(t, 480000, tl.Entries[2].End())
}

func TestBuildTimelineSpeechOverrun(t *testing.T) {
	instructions := []workout.Instruction{
		{Text: "A very long instruction", DurationSeconds: 10},
		{Text: "Short", DurationSeconds: 10},
	}
	clips := []Clip{
		{Speech: tone(mono8k, 9, 0.5), Countdown: tone(mono8k, 3, 0.5)},
		{Speech: tone(mono8k, 1, 0.5)},
	}
	tl, err := BuildTimeline(mono8k, instructions, clips, nil)
	require.NoError(t, err)

	require.Len(t, tl.Slots, 2)
	assert.True(t, tl.Slots[0].Overrun)
	assert.Equal(t, 12*8000, tl.Slots[0].Frames)
	assert.Equal(t, 10*8000, tl.Slots[0].Requested)
	assert.False(t, tl.Slots[1].Overrun)
	assert.Equal(t, 12*8000, tl.Slots[1].Offset)
	assert.Equal(t, 1, tl.Overruns())

	// Speech is never cut and no silence is inserted in the grown slot.
	assert.Equal(t, KindSpeech, tl.Entries[0].Kind)
	assert.Equal(t, 9*8000, tl.Entries[0].Frames)
	assert.Equal(t, KindCountdown, tl.Entries[1].Kind)
	assert.Equal(t, 22*8000, tl.Frames)
	assert.GreaterOrEqual(t, tl.Frames, 20*8000)
}

func TestBuildTimelineIsDeterministic(t *testing.T) {
	clips := []Clip{
		{Speech: tone(mono8k, 2, 0.5), Countdown: tone(mono8k, 5, 0.5)},
		{Speech: tone(mono8k, 1, 0.5)},
	}
	a, err := BuildTimeline(mono8k, warmupRun(), clips, nil)
	require.NoError(t, err)
	b, err := BuildTimeline(mono8k, warmupRun(), clips, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Entries, b.Entries)
	assert.Equal(t, a.Slots, b.Slots)
}

func TestBuildTimelineFormats(t *testing.T) {
	wide := audio.Format{SampleRate: 16000, Channels: 2}
	clips := []Clip{
		{Speech: tone(mono8k, 1, 0.5)},
		{Speech: tone(wide, 1, 0.5)},
	}
	target := TargetFormat(clips, audio.NoBed())
	assert.Equal(t, wide, target)

	_, err := BuildTimeline(target, warmupRun(), clips, nil)
	var mixErr *MixError
	require.ErrorAs(t, err, &mixErr)
	assert.Equal(t, 0, mixErr.Instruction)
	assert.ErrorIs(t, err, audio.ErrFormatMismatch)

	tl, err := BuildTimeline(target, warmupRun(), clips, nearest{})
	require.NoError(t, err)
	assert.Equal(t, wide, tl.Format)
	assert.Equal(t, 16000, tl.Entries[0].Frames)
	assert.Equal(t, 90*16000, tl.Frames)

	_, err = BuildTimeline(target, warmupRun(), clips[:1], nearest{})
	assert.ErrorAs(t, err, &mixErr)

	_, err = BuildTimeline(audio.Format{}, warmupRun(), clips, nearest{})
	assert.ErrorAs(t, err, &mixErr)
}

func TestTargetFormatIncludesBed(t *testing.T) {
	clips := []Clip{{Speech: tone(mono8k, 1, 0.5)}}
	bed := audio.NewBed(tone(audio.Format{SampleRate: 44100, Channels: 2}, 0.1, 0.5))
	assert.Equal(t, audio.Format{SampleRate: 44100, Channels: 2}, TargetFormat(clips, bed))
}

func TestRender(t *testing.T) {
	speech := tone(mono8k, 1, 0.5)
	clips := []Clip{{Speech: speech}}
	tl, err := BuildTimeline(mono8k, []workout.Instruction{{Text: "Go", DurationSeconds: 10}}, clips, nil)
	require.NoError(t, err)

	out := tl.Render()
	require.Equal(t, 80000, out.Frames())
	assert.Equal(t, speech.Samples, out.Samples[:8000])
	assert.Zero(t, out.Slice(8000, 80000).Peak())
}

func TestCompositeWithoutBed(t *testing.T) {
	clips := []Clip{
		{Speech: tone(mono8k, 2, 0.5)},
		{Speech: tone(mono8k, 1, 0.5)},
	}
	res, err := NewCompositor(nil).Compose(warmupRun(), clips, audio.NoBed())
	require.NoError(t, err)

	assert.False(t, res.BedUsed)
	assert.Equal(t, 90*8000, res.Segment.Frames())
	assert.Zero(t, res.Segment.Slice(2*8000, 60*8000).Peak(), "no background energy")
	assert.Zero(t, res.BedGainDB)
}

func TestCompositeLoopsBed(t *testing.T) {
	clips := []Clip{
		{Speech: tone(mono8k, 2, 0.5)},
		{Speech: tone(mono8k, 1, 0.5)},
	}
	// 3 s of a non-periodic ramp, so a misplaced seam would be visible.
	bedFrames := 3 * 8000
	ramp := audio.Silence(mono8k, bedFrames)
	for i := range ramp.Samples {
		ramp.Samples[i] = 0.2 * float32(i%7919) / 7919
	}

	res, err := NewCompositor(nil).Compose(warmupRun(), clips, audio.NewBed(ramp))
	require.NoError(t, err)
	require.True(t, res.BedUsed)

	out := res.Segment
	require.Equal(t, 90*8000, out.Frames(), "bed is cut to exactly the foreground length")

	// In the silent part of the first slot the output is the bed alone, and
	// it repeats every bedFrames.
	for k := 3 * 8000; k+bedFrames < 59*8000; k += 997 {
		assert.Equal(t, out.Samples[k], out.Samples[k+bedFrames], "frame %d", k)
	}
	for sec := 2; sec < 90; sec++ {
		window := out.Slice(sec*8000, (sec+1)*8000)
		assert.Greater(t, window.Peak(), 0.0, "background present at %ds", sec)
	}
}

func TestCompositeTruncatesLongBed(t *testing.T) {
	clips := []Clip{{Speech: tone(mono8k, 1, 0.5)}}
	instructions := []workout.Instruction{{Text: "Go", DurationSeconds: 10}}

	res, err := NewCompositor(nil).Compose(instructions, clips, audio.NewBed(tone(mono8k, 25, 0.3)))
	require.NoError(t, err)
	assert.Equal(t, 10*8000, res.Segment.Frames())
}

func TestCompositeBedLevel(t *testing.T) {
	instructions := []workout.Instruction{{Text: "Hold", DurationSeconds: 10}}
	fg := tone(mono8k, 10, 0.5)
	clips := []Clip{{Speech: fg}}

	c := NewCompositor(nil)
	res, err := c.Compose(instructions, clips, audio.NewBed(tone(mono8k, 4, 0.25)))
	require.NoError(t, err)

	// Quieter bed gets boosted by 6 dB to match, then sits 10 dB under.
	assert.InDelta(t, 20*math.Log10(2)-10, res.BedGainDB, 0.2)

	bedOnly := audio.Silence(mono8k, res.Segment.Frames())
	for i := range bedOnly.Samples {
		bedOnly.Samples[i] = res.Segment.Samples[i] - fg.Samples[i]
	}
	assert.InDelta(t, res.ForegroundLUFS+DefaultBedGainDB, loudness.Integrated(bedOnly), 0.5)
	assert.Less(t, bedOnly.Peak(), fg.Peak(), "bed is attenuated relative to speech")
}

func TestCompositeFormatErrors(t *testing.T) {
	tl, err := BuildTimeline(mono8k, []workout.Instruction{{Text: "Go", DurationSeconds: 10}},
		[]Clip{{Speech: tone(mono8k, 1, 0.5)}}, nil)
	require.NoError(t, err)

	c := NewCompositor(nil)
	_, err = c.Composite(tl, audio.NewBed(tone(audio.Format{SampleRate: 16000, Channels: 1}, 1, 0.5)))
	var mixErr *MixError
	require.ErrorAs(t, err, &mixErr)
	assert.Equal(t, "conform bed", mixErr.Op)

	c.Resampler = nearest{}
	res, err := c.Composite(tl, audio.NewBed(tone(audio.Format{SampleRate: 16000, Channels: 1}, 1, 0.5)))
	require.NoError(t, err)
	assert.True(t, res.BedUsed)

	_, err = c.Composite(nil, audio.NoBed())
	assert.ErrorAs(t, err, &mixErr)
}

func TestCompositeWorkingSetIsBounded(t *testing.T) {
	const seconds = 120
	instructions := []workout.Instruction{{Text: "Hold", DurationSeconds: seconds}}
	tl, err := BuildTimeline(mono8k, instructions, []Clip{{Speech: tone(mono8k, 2, 0.5)}}, nil)
	require.NoError(t, err)
	bed := audio.NewBed(tone(mono8k, 7, 0.3))
	signalBytes := uint64(seconds * mono8k.SampleRate * 4)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	res, err := NewCompositor(nil).Composite(tl, bed)
	runtime.ReadMemStats(&after)

	require.NoError(t, err)
	require.True(t, res.BedUsed)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, 2*signalBytes+signalBytes/4,
		"foreground plus one looped bed, nothing else of signal size")
}
