// Package playback previews rendered workouts on the default output device.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/hashicorp/go-hclog"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/logger"
)

const (
	periodMs = 20
	fadeOut  = 50 * time.Millisecond
)

// Play streams seg to the default playback device and returns once it has
// been played or ctx ends. On cancellation the tail is faded out rather
// than cut.
func Play(ctx context.Context, seg *audio.Segment, l hclog.Logger) error {
	if seg.Empty() {
		return nil
	}
	if !seg.Format.Valid() {
		return fmt.Errorf("playback: invalid format %s", seg.Format)
	}
	log := logger.OrNull(l).Named("playback")

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	pacer := NewPacer(seg.SampleRate, seg.Channels)
	pacer.Write(seg.S16LE())
	defer pacer.Close()

	done := make(chan struct{})
	var once sync.Once

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.PeriodSizeInMilliseconds = periodMs
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(seg.Channels)
	cfg.SampleRate = uint32(seg.SampleRate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			pacer.Fill(out)
			if pacer.Drained() {
				once.Do(func() { close(done) })
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	log.Info("playing", "duration", seg.Duration(), "format", seg.Format.String())

	var result error
	select {
	case <-done:
	case <-ctx.Done():
		pacer.FadeOut(fadeOut)
		select {
		case <-done:
		case <-time.After(4 * fadeOut):
		}
		result = ctx.Err()
	}
	// Let the device play out the last period before stopping it.
	time.Sleep(2 * periodMs * time.Millisecond)

	if err := device.Stop(); err != nil && result == nil {
		result = fmt.Errorf("failed to stop playback device: %w", err)
	}
	if errors.Is(result, context.Canceled) {
		log.Info("playback stopped", "position", pacer.Position())
	}
	return result
}
