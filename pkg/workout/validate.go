package workout

import (
	"fmt"
	"unicode/utf8"
)

// Rule identifies which structural check rejected a workout.
type Rule string

const (
	RuleEmpty         Rule = "empty_instructions"
	RuleTextLength    Rule = "text_length"
	RuleDuration      Rule = "min_duration"
	RuleTotalDuration Rule = "total_duration"
)

// ValidationError reports the first failed rule. Index is the zero-based
// instruction position, or -1 for whole-workout rules.
type ValidationError struct {
	Rule    Rule
	Index   int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("instruction %d: %s", e.Index, e.Message)
	}
	return e.Message
}

// Limits bounds what a workout may contain.
type Limits struct {
	MinTextLength   int
	MaxTextLength   int
	MinDuration     int // seconds, per instruction
	MaxTotalSeconds int
}

// DefaultLimits returns the service limits: 1..256 characters per
// instruction, at least 10 seconds each, at most 4 hours in total.
func DefaultLimits() Limits {
	return Limits{
		MinTextLength:   1,
		MaxTextLength:   256,
		MinDuration:     10,
		MaxTotalSeconds: 4 * 60 * 60,
	}
}

// Validate checks instructions against DefaultLimits.
func Validate(instructions []Instruction) error {
	return DefaultLimits().Validate(instructions)
}

// Validate runs the checks in order and stops at the first violation:
// non-empty list, per-instruction text length, per-instruction duration,
// then the total duration.
func (l Limits) Validate(instructions []Instruction) error {
	if len(instructions) == 0 {
		return &ValidationError{Rule: RuleEmpty, Index: -1, Message: "no workout instructions provided"}
	}

	for i, in := range instructions {
		n := utf8.RuneCountInString(in.Text)
		if n < l.MinTextLength || n > l.MaxTextLength {
			msg := fmt.Sprintf("text is %d characters, must be between %d and %d", n, l.MinTextLength, l.MaxTextLength)
			return &ValidationError{Rule: RuleTextLength, Index: i, Message: msg}
		}
	}

	for i, in := range instructions {
		if in.DurationSeconds < l.MinDuration {
			msg := fmt.Sprintf("duration %ds is below the minimum of %ds", in.DurationSeconds, l.MinDuration)
			return &ValidationError{Rule: RuleDuration, Index: i, Message: msg}
		}
	}

	total := 0
	for _, in := range instructions {
		total += in.DurationSeconds
	}
	if total > l.MaxTotalSeconds {
		return &ValidationError{
			Rule:    RuleTotalDuration,
			Index:   -1,
			Message: fmt.Sprintf("total duration %s exceeds the maximum of %s", hms(total), hms(l.MaxTotalSeconds)),
		}
	}
	return nil
}

func hms(seconds int) string {
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, (seconds%3600)/60, seconds%60)
}
