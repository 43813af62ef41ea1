// Package loudness measures integrated loudness (ITU-R BS.1770-4) and
// normalizes audio to a target level without clipping.
package loudness

import (
	"math"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// Gating parameters. Blocks are 400ms long and overlap by 75%.
const (
	blockDuration  = 0.4
	blockOverlap   = 0.75
	absoluteGate   = -70.0
	relativeGateLU = -10.0
	loudnessOffset = -0.691
)

// biquad is a direct form I second-order section with a0 normalized to 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// highShelf is stage one of the K-weighting curve, modelling the acoustic
// effect of the head. Coefficients are derived for any rate so they match
// the 48kHz reference table of BS.1770.
func highShelf(rate float64) biquad {
	const (
		f0 = 1681.974450955533
		g  = 3.999843853973347
		q  = 0.7071752369554196
	)
	k := math.Tan(math.Pi * f0 / rate)
	vh := math.Pow(10, g/20)
	vb := math.Pow(vh, 0.4996667741545416)
	a0 := 1 + k/q + k*k
	return biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2 * (k*k - 1) / a0,
		a2: (1 - k/q + k*k) / a0,
	}
}

// highPass is stage two of the K-weighting curve (RLB weighting).
func highPass(rate float64) biquad {
	const (
		f0 = 38.13547087602444
		q  = 0.5003270373238773
	)
	k := math.Tan(math.Pi * f0 / rate)
	a0 := 1 + k/q + k*k
	return biquad{
		b0: 1,
		b1: -2,
		b2: 1,
		a1: 2 * (k*k - 1) / a0,
		a2: (1 - k/q + k*k) / a0,
	}
}

type biquadState struct {
	x1, x2, y1, y2 float64
}

func (f *biquad) next(st *biquadState, x float64) float64 {
	y := f.b0*x + f.b1*st.x1 + f.b2*st.x2 - f.a1*st.y1 - f.a2*st.y2
	st.x2, st.x1 = st.x1, x
	st.y2, st.y1 = st.y1, y
	return y
}

// Integrated returns the gated integrated loudness of seg in LUFS. It
// returns -Inf when the loudness is undefined: input shorter than one
// gating block, or every block below the absolute gate.
func Integrated(seg *audio.Segment) float64 {
	powers := blockPowers(seg)
	if len(powers) == 0 {
		return math.Inf(-1)
	}

	gated := gate(powers, absoluteGate)
	if len(gated) == 0 {
		return math.Inf(-1)
	}
	relative := toLUFS(mean(gated)) + relativeGateLU
	gated = gate(gated, relative)
	if len(gated) == 0 {
		return math.Inf(-1)
	}
	return toLUFS(mean(gated))
}

// blockPowers K-weights the signal and returns the mean square power of every
// gating block, summed over channels (all channel weights are 1.0 for mono
// and stereo). The signal is processed in 100ms hops so memory stays
// proportional to the number of blocks, not samples.
func blockPowers(seg *audio.Segment) []float64 {
	rate := float64(seg.SampleRate)
	hop := int(math.Round(blockDuration * (1 - blockOverlap) * rate))
	hopsPerBlock := int(math.Round(1 / (1 - blockOverlap)))
	if hop == 0 || seg.Frames() < hop*hopsPerBlock {
		return nil
	}

	shelf, hp := highShelf(rate), highPass(rate)
	shelfState := make([]biquadState, seg.Channels)
	hpState := make([]biquadState, seg.Channels)

	var hops []float64
	var acc float64
	n := 0
	frames := seg.Frames()
	for i := 0; i < frames; i++ {
		for c := 0; c < seg.Channels; c++ {
			x := float64(seg.Samples[i*seg.Channels+c])
			y := hp.next(&hpState[c], shelf.next(&shelfState[c], x))
			acc += y * y
		}
		n++
		if n == hop {
			hops = append(hops, acc)
			acc, n = 0, 0
		}
	}

	blockLen := float64(hop * hopsPerBlock)
	powers := make([]float64, 0, len(hops))
	for j := 0; j+hopsPerBlock <= len(hops); j++ {
		var sum float64
		for _, h := range hops[j : j+hopsPerBlock] {
			sum += h
		}
		powers = append(powers, sum/blockLen)
	}
	return powers
}

func gate(powers []float64, threshold float64) []float64 {
	out := powers[:0:0]
	for _, p := range powers {
		if toLUFS(p) > threshold {
			out = append(out, p)
		}
	}
	return out
}

func mean(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}

func toLUFS(power float64) float64 {
	if power <= 0 {
		return math.Inf(-1)
	}
	return loudnessOffset + 10*math.Log10(power)
}
