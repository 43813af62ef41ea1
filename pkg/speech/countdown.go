package speech

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/realtime-ai/workout-audio/pkg/audio"
)

// Countdown defaults.
const (
	DefaultTick   = time.Second
	DefaultMinGap = 150 * time.Millisecond
)

// Countdown renders spoken countdowns ("5, 4, 3, 2, 1"). Each number starts
// on a tick boundary; a number that takes longer than one tick is followed by
// MinGap of silence instead. Rendered countdowns are memoized per
// (n, language) within a render session.
type Countdown struct {
	producer *Producer
	Tick     time.Duration
	MinGap   time.Duration
}

// NewCountdown creates a Countdown speaking through producer.
func NewCountdown(producer *Producer) *Countdown {
	return &Countdown{
		producer: producer,
		Tick:     DefaultTick,
		MinGap:   DefaultMinGap,
	}
}

// Render returns the countdown from n down to 1.
func (c *Countdown) Render(ctx context.Context, n int, language string) (*audio.Segment, error) {
	if n <= 0 {
		return nil, fmt.Errorf("countdown must start above zero, got %d", n)
	}
	key := strconv.Itoa(n) + "\x00" + language

	sess := sessionFrom(ctx)
	if seg, ok := sess.countdown(key); ok {
		return seg, nil
	}

	parts := make([]*audio.Segment, 0, 2*n)
	var format audio.Format
	for i := n; i >= 1; i-- {
		number, err := c.producer.Synthesize(ctx, -1, strconv.Itoa(i), language)
		if err != nil {
			return nil, err
		}
		if i == n {
			format = number.Format
		} else if number.Format != format {
			return nil, fmt.Errorf("countdown number %d: %w", i, audio.ErrFormatMismatch)
		}

		parts = append(parts, number)
		tick := format.FramesFor(c.Tick)
		if pad := tick - number.Frames(); pad > 0 {
			parts = append(parts, audio.Silence(format, pad))
		} else {
			parts = append(parts, audio.SilenceFor(format, c.MinGap))
		}
	}

	seg, err := audio.Concat(format, parts...)
	if err != nil {
		return nil, err
	}

	sess.storeCountdown(key, seg)
	return seg, nil
}
