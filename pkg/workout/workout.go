// Package workout defines the instruction list a workout track is built from
// and the structural checks it must pass before any audio work starts.
package workout

import (
	"net/url"
	"strings"
	"time"
)

// DefaultLanguage is used when a workout does not name one.
const DefaultLanguage = "en"

// DefaultDurationSeconds applies to instructions written without a duration.
const DefaultDurationSeconds = 30

// Instruction is one spoken cue and the time slot it occupies.
type Instruction struct {
	Text            string `json:"text" yaml:"text"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
}

// Duration returns the requested slot length.
func (i Instruction) Duration() time.Duration {
	return time.Duration(i.DurationSeconds) * time.Second
}

// Spec is a complete workout request.
type Spec struct {
	Instructions   []Instruction `json:"instructions" yaml:"instructions"`
	Language       string        `json:"language" yaml:"language"`
	BackgroundURLs []string      `json:"background_urls" yaml:"background_urls"`
}

// TotalSeconds sums the requested durations.
func (s *Spec) TotalSeconds() int {
	total := 0
	for _, in := range s.Instructions {
		total += in.DurationSeconds
	}
	return total
}

// Lang returns the language, falling back to DefaultLanguage.
func (s *Spec) Lang() string {
	if l := strings.TrimSpace(s.Language); l != "" {
		return l
	}
	return DefaultLanguage
}

// Backgrounds returns the background descriptors with blanks and duplicates
// removed, keeping first-seen order.
func (s *Spec) Backgrounds() []string {
	return Dedupe(s.BackgroundURLs)
}

// Dedupe trims descriptors and drops blanks and repeats, preserving order.
func Dedupe(descriptors []string) []string {
	seen := make(map[string]struct{}, len(descriptors))
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// IsRemoteURL reports whether descriptor is an absolute http(s) URL.
func IsRemoteURL(descriptor string) bool {
	u, err := url.Parse(descriptor)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
