package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytesPerSample is the width of a signed 16-bit PCM sample.
const BytesPerSample = 2

// FromS16LE decodes interleaved signed 16-bit little-endian PCM.
// A trailing odd byte or partial frame is an error.
func FromS16LE(f Format, pcm []byte) (*Segment, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid format %s", f)
	}
	frameBytes := BytesPerSample * f.Channels
	if len(pcm)%frameBytes != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of frame size %d", len(pcm), frameBytes)
	}
	samples := make([]float32, len(pcm)/BytesPerSample)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		samples[i] = float32(v) / 32768
	}
	return &Segment{Format: f, Samples: samples}, nil
}

// S16LE encodes the segment as interleaved signed 16-bit little-endian PCM,
// saturating out-of-range samples.
func (s *Segment) S16LE() []byte {
	out := make([]byte, len(s.Samples)*BytesPerSample)
	for i, v := range s.Samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(toS16(v)))
	}
	return out
}

func toS16(v float32) int16 {
	x := math.Round(float64(v) * 32768)
	if x > math.MaxInt16 {
		return math.MaxInt16
	}
	if x < math.MinInt16 {
		return math.MinInt16
	}
	return int16(x)
}
