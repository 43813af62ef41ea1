package mix

import (
	"fmt"
	"strings"

	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// Placement says where a countdown sits inside an instruction slot.
type Placement int

const (
	// PlacementTrailing ends the countdown exactly at the slot boundary, so
	// it announces the next transition.
	PlacementTrailing Placement = iota
	// PlacementLeading plays the countdown before the instruction's speech.
	PlacementLeading
)

func (p Placement) String() string {
	switch p {
	case PlacementLeading:
		return "leading"
	case PlacementTrailing:
		return "trailing"
	default:
		return fmt.Sprintf("Placement(%d)", int(p))
	}
}

// ParsePlacement accepts "leading" or "trailing", case-insensitively.
func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "leading", "before":
		return PlacementLeading, nil
	case "trailing", "after", "":
		return PlacementTrailing, nil
	default:
		return PlacementTrailing, fmt.Errorf("unknown countdown placement %q", s)
	}
}

// CountdownPolicy decides which instructions get a spoken countdown. A
// count of zero means none.
type CountdownPolicy interface {
	Plan(index int, in workout.Instruction) (count int, placement Placement)
}

// Defaults for ThresholdPolicy.
const (
	DefaultCountdownFrom       = 5
	DefaultCountdownMinSeconds = 15
)

// ThresholdPolicy counts down from Count on every instruction lasting at
// least MinSeconds.
type ThresholdPolicy struct {
	Count      int
	Placement  Placement
	MinSeconds int
}

// DefaultPolicy counts down 5..1 at the end of every slot of 15s or more.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		Count:      DefaultCountdownFrom,
		Placement:  PlacementTrailing,
		MinSeconds: DefaultCountdownMinSeconds,
	}
}

// Plan implements CountdownPolicy.
func (p ThresholdPolicy) Plan(_ int, in workout.Instruction) (int, Placement) {
	if p.Count <= 0 || in.DurationSeconds < p.MinSeconds {
		return 0, p.Placement
	}
	return p.Count, p.Placement
}

type noCountdown struct{}

func (noCountdown) Plan(int, workout.Instruction) (int, Placement) {
	return 0, PlacementTrailing
}

// NoCountdown never emits a countdown.
var NoCountdown CountdownPolicy = noCountdown{}
