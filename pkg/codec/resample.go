package codec

import (
	"fmt"
	"math"

	"github.com/asticode/go-astiav"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

var _ audio.Resampler = (*Resampler)(nil)

// Resampler converts segments between sample rates and channel layouts with
// libswresample. It keeps no state between calls and is safe for concurrent
// use.
type Resampler struct{}

// NewResampler returns a Resampler.
func NewResampler() *Resampler {
	return &Resampler{}
}

// Resample converts seg to the target format. The result is exactly as long
// as the input (rounded to the nearest target frame).
func (r *Resampler) Resample(seg *audio.Segment, to audio.Format) (*audio.Segment, error) {
	if seg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid input sample rate: %d", seg.SampleRate)
	}
	if to.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid output sample rate: %d", to.SampleRate)
	}
	if seg.Format == to {
		return seg.Clone(), nil
	}

	want := int(math.Round(float64(seg.Frames()) * float64(to.SampleRate) / float64(seg.SampleRate)))
	if seg.Empty() {
		return audio.Silence(to, want), nil
	}

	conv, err := newConverter(seg.Format, to)
	if err != nil {
		return nil, err
	}
	defer conv.Free()

	out := make([]float32, 0, want*to.Channels)
	for from := 0; from < seg.Frames(); from += chunkFrames {
		end := from + chunkFrames
		if end > seg.Frames() {
			end = seg.Frames()
		}
		if out, err = conv.convert(out, seg.Samples[from*seg.Channels:end*seg.Channels]); err != nil {
			return nil, err
		}
	}
	if out, err = conv.flush(out); err != nil {
		return nil, err
	}
	return audio.NewSegment(to, fitFrames(out, to.Channels, want)), nil
}

// converter owns one swr context and its scratch frames.
type converter struct {
	ctx      *astiav.SoftwareResampleContext
	inFrame  *astiav.Frame
	outFrame *astiav.Frame
	in, out  audio.Format
}

func newConverter(in, out audio.Format) (*converter, error) {
	c := &converter{in: in, out: out}

	c.ctx = astiav.AllocSoftwareResampleContext()
	if c.ctx == nil {
		return nil, fmt.Errorf("failed to allocate resample context")
	}
	c.inFrame = astiav.AllocFrame()
	if c.inFrame == nil {
		c.Free()
		return nil, fmt.Errorf("failed to allocate input frame")
	}
	c.outFrame = astiav.AllocFrame()
	if c.outFrame == nil {
		c.Free()
		return nil, fmt.Errorf("failed to allocate output frame")
	}
	return c, nil
}

// Free releases the FFmpeg resources.
func (c *converter) Free() {
	if c.ctx != nil {
		c.ctx.Free()
		c.ctx = nil
	}
	if c.inFrame != nil {
		c.inFrame.Free()
		c.inFrame = nil
	}
	if c.outFrame != nil {
		c.outFrame.Free()
		c.outFrame = nil
	}
}

func (c *converter) capacity(inFrames int) int {
	// Room for the converted chunk plus whatever the resampler buffered.
	return inFrames*c.out.SampleRate/c.in.SampleRate + 256
}

func (c *converter) convert(dst []float32, samples []float32) ([]float32, error) {
	if err := fillFrame(c.inFrame, c.in, samples); err != nil {
		return dst, err
	}
	if err := prepareOutput(c.outFrame, c.out, c.capacity(len(samples)/c.in.Channels)); err != nil {
		return dst, err
	}
	if err := c.ctx.ConvertFrame(c.inFrame, c.outFrame); err != nil {
		return dst, fmt.Errorf("failed to resample: %w", err)
	}
	return readFloats(dst, c.outFrame, c.out.Channels)
}

// flush drains samples still buffered inside the resampler.
func (c *converter) flush(dst []float32) ([]float32, error) {
	for i := 0; i < maxFlushRounds; i++ {
		if err := prepareOutput(c.outFrame, c.out, c.capacity(0)); err != nil {
			return dst, err
		}
		if err := c.ctx.ConvertFrame(nil, c.outFrame); err != nil {
			return dst, fmt.Errorf("failed to flush resampler: %w", err)
		}
		if c.outFrame.NbSamples() == 0 {
			return dst, nil
		}
		var err error
		if dst, err = readFloats(dst, c.outFrame, c.out.Channels); err != nil {
			return dst, err
		}
	}
	return dst, nil
}
