// Package codec bridges decoded audio segments and FFmpeg (through go-astiav):
// it decodes compressed TTS and background audio, converts between sample
// rates and channel layouts, and encodes the finished track.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/asticode/go-astiav"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

const (
	align          = 1
	bytesPerFloat  = 4
	chunkFrames    = 65536
	maxFlushRounds = 64
)

func layoutFor(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	default:
		return astiav.ChannelLayout{}, fmt.Errorf("unsupported channel count %d", channels)
	}
}

// floatBytes encodes interleaved float samples as packed little-endian FLT.
func floatBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerFloat)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerFloat:], math.Float32bits(v))
	}
	return out
}

// appendFloats decodes packed little-endian FLT bytes onto dst.
func appendFloats(dst []float32, b []byte) []float32 {
	for i := 0; i+bytesPerFloat <= len(b); i += bytesPerFloat {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i:])))
	}
	return dst
}

// fillFrame prepares f as a packed FLT frame carrying samples.
func fillFrame(f *astiav.Frame, format audio.Format, samples []float32) error {
	layout, err := layoutFor(format.Channels)
	if err != nil {
		return err
	}
	f.Unref()
	f.SetChannelLayout(layout)
	f.SetSampleFormat(astiav.SampleFormatFlt)
	f.SetSampleRate(format.SampleRate)
	f.SetNbSamples(len(samples) / format.Channels)
	if err := f.AllocBuffer(align); err != nil {
		return fmt.Errorf("failed to allocate frame buffer: %w", err)
	}
	if err := f.MakeWritable(); err != nil {
		return fmt.Errorf("making frame writable failed: %w", err)
	}

	// FFmpeg may want a larger aligned buffer than the samples occupy.
	size, err := f.SamplesBufferSize(align)
	if err != nil {
		return fmt.Errorf("failed to get buffer size: %w", err)
	}
	data := floatBytes(samples)
	if len(data) < size {
		padded := make([]byte, size)
		copy(padded, data)
		data = padded
	}
	if err := f.Data().SetBytes(data[:size], align); err != nil {
		return fmt.Errorf("setting frame data failed: %w", err)
	}
	return nil
}

// prepareOutput resets f as an empty packed FLT frame able to hold capacity
// samples per channel.
func prepareOutput(f *astiav.Frame, format audio.Format, capacity int) error {
	layout, err := layoutFor(format.Channels)
	if err != nil {
		return err
	}
	f.Unref()
	f.SetChannelLayout(layout)
	f.SetSampleFormat(astiav.SampleFormatFlt)
	f.SetSampleRate(format.SampleRate)
	f.SetNbSamples(capacity)
	if err := f.AllocBuffer(align); err != nil {
		return fmt.Errorf("failed to allocate output buffer: %w", err)
	}
	return nil
}

// readFloats returns the packed FLT samples held by f.
func readFloats(dst []float32, f *astiav.Frame, channels int) ([]float32, error) {
	if f.NbSamples() == 0 {
		return dst, nil
	}
	b, err := f.Data().Bytes(align)
	if err != nil {
		return dst, fmt.Errorf("getting output data failed: %w", err)
	}
	want := f.NbSamples() * channels * bytesPerFloat
	if len(b) > want {
		b = b[:want]
	}
	return appendFloats(dst, b), nil
}

// fitFrames pads with silence or truncates samples to exactly frames frames.
func fitFrames(samples []float32, channels, frames int) []float32 {
	want := frames * channels
	if len(samples) >= want {
		return samples[:want]
	}
	return append(samples, make([]float32, want-len(samples))...)
}
