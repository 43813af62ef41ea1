package loudness

import (
	"math"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// DefaultTargetLUFS is a podcast-style loudness target for spoken content.
const DefaultTargetLUFS = -16.0

// Report describes what Normalize measured and did.
type Report struct {
	MeasuredLUFS float64 // -Inf when undefined
	TargetLUFS   float64
	GainDB       float64 // gain actually applied
	Applied      bool
	PeakLimited  bool // gain was reduced to keep the peak at or below 0 dBFS
}

// Normalize applies one uniform gain so the integrated loudness of seg
// matches target. The gain is reduced when it would push the sample peak
// above full scale. Input with undefined loudness (silence, or shorter than
// one gating block) is returned unchanged. seg itself is not modified.
func Normalize(seg *audio.Segment, target float64) (*audio.Segment, Report) {
	rep := measure(seg, target)
	if !rep.Applied {
		return seg, rep
	}
	// Clip catches float rounding at exactly full scale.
	return seg.Gain(rep.GainDB).ClipInPlace(), rep
}

// NormalizeInPlace is Normalize for a segment the caller owns: the gain and
// the limiter are applied to seg directly, so no copy of the signal is made.
func NormalizeInPlace(seg *audio.Segment, target float64) Report {
	rep := measure(seg, target)
	if rep.Applied {
		seg.GainInPlace(rep.GainDB).ClipInPlace()
	}
	return rep
}

func measure(seg *audio.Segment, target float64) Report {
	rep := Report{MeasuredLUFS: Integrated(seg), TargetLUFS: target}
	if math.IsInf(rep.MeasuredLUFS, -1) || math.IsNaN(rep.MeasuredLUFS) {
		return rep
	}

	gain := target - rep.MeasuredLUFS
	if peak := seg.Peak(); peak > 0 {
		if headroom := audio.LinearToDB(1 / peak); gain > headroom {
			gain = headroom
			rep.PeakLimited = true
		}
	}
	rep.GainDB = gain
	rep.Applied = true
	return rep
}

// MatchTo scales seg so its integrated loudness equals reference, then
// offsets it by offsetDB. When either loudness is undefined only the offset
// is applied.
func MatchTo(seg *audio.Segment, reference, offsetDB float64) *audio.Segment {
	return seg.Gain(MatchGain(seg, reference, offsetDB))
}

// MatchGain returns the gain in dB that MatchTo would apply.
func MatchGain(seg *audio.Segment, reference, offsetDB float64) float64 {
	measured := Integrated(seg)
	if math.IsInf(measured, 0) || math.IsInf(reference, 0) {
		return offsetDB
	}
	return reference - measured + offsetDB
}
