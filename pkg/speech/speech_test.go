package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/tts"
)

const stubRate = 8000

// stubProvider speaks 10ms of PCM per character.
type stubProvider struct {
	calls    atomic.Int32
	err      error
	empty    bool
	encoding string
	delay    time.Duration
}

func (s *stubProvider) Name() string            { return "stub" }
func (s *stubProvider) GetDefaultVoice() string { return "" }
func (s *stubProvider) ValidateConfig() error   { return nil }

func (s *stubProvider) Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	encoding := s.encoding
	if encoding == "" {
		encoding = tts.EncodingPCM
	}
	var data []byte
	if !s.empty {
		frames := len([]rune(req.Text)) * stubRate / 100
		data = audio.Silence(audio.Format{SampleRate: stubRate, Channels: 1}, frames).S16LE()
	}
	return &tts.SynthesizeResponse{
		AudioData:   data,
		AudioFormat: tts.AudioFormat{SampleRate: stubRate, Channels: 1, Encoding: encoding},
	}, nil
}

// blockingProvider holds every call until release is closed or the call's
// context ends.
type blockingProvider struct {
	stubProvider
	started chan struct{}
	release chan struct{}
}

func (b *blockingProvider) Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.stubProvider.Synthesize(ctx, req)
}

type stubDecoder struct {
	calls atomic.Int32
}

func (d *stubDecoder) Decode(ctx context.Context, data []byte) (*audio.Segment, error) {
	d.calls.Add(1)
	return audio.Silence(audio.FormatCD, len(data)), nil
}

func TestSynthesize(t *testing.T) {
	p := &stubProvider{}
	producer := NewProducer(p, nil)

	seg, err := producer.Synthesize(context.Background(), 0, "Squats", "en")
	require.NoError(t, err)
	assert.Equal(t, audio.Format{SampleRate: stubRate, Channels: 1}, seg.Format)
	assert.Equal(t, 6*stubRate/100, seg.Frames())
	assert.Equal(t, "stub", producer.Provider())
}

func TestSynthesizeMemoizesWithinSession(t *testing.T) {
	p := &stubProvider{delay: 20 * time.Millisecond}
	producer := NewProducer(p, nil)
	ctx := WithSession(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := producer.Synthesize(ctx, i, "Rest", "en")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	_, err := producer.Synthesize(ctx, 9, "Rest", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	_, err = producer.Synthesize(ctx, 0, "Rest", "de")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load(), "language is part of the key")
}

func TestSynthesizeKeepsNothingAcrossSessions(t *testing.T) {
	p := &stubProvider{}
	producer := NewProducer(p, nil)

	for i := 0; i < 3; i++ {
		ctx := WithSession(context.Background())
		_, err := producer.Synthesize(ctx, 0, "Rest", "en")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), p.calls.Load())

	_, err := producer.Synthesize(context.Background(), 0, "Rest", "en")
	require.NoError(t, err)
	_, err = producer.Synthesize(context.Background(), 0, "Rest", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(5), p.calls.Load(), "no session, no memo")
}

func TestSynthesizeSharedCallSurvivesCanceledCaller(t *testing.T) {
	p := &blockingProvider{started: make(chan struct{}, 1), release: make(chan struct{})}
	producer := NewProducer(p, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := producer.Synthesize(ctxA, 0, "Run", "en")
		errA <- err
	}()
	<-p.started

	type result struct {
		seg *audio.Segment
		err error
	}
	resB := make(chan result, 1)
	go func() {
		seg, err := producer.Synthesize(context.Background(), 0, "Run", "en")
		resB <- result{seg, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
		var synthErr *SynthesisError
		assert.ErrorAs(t, err, &synthErr)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(p.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, 3*stubRate/100, r.seg.Frames())
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), p.calls.Load(), "one provider call served both callers")
}

func TestSynthesizeCallTimeout(t *testing.T) {
	p := &blockingProvider{started: make(chan struct{}, 1), release: make(chan struct{})}
	producer := NewProducer(p, nil, WithCallTimeout(20*time.Millisecond))

	_, err := producer.Synthesize(context.Background(), 2, "Run", "en")
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, 2, synthErr.Index)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSynthesizeErrors(t *testing.T) {
	boom := errors.New("quota exceeded")

	tests := []struct {
		name     string
		provider *stubProvider
		decoder  Decoder
		wantIs   error
	}{
		{name: "provider failure", provider: &stubProvider{err: boom}, wantIs: boom},
		{name: "empty audio", provider: &stubProvider{empty: true}, wantIs: ErrEmptyAudio},
		{name: "compressed without decoder", provider: &stubProvider{encoding: tts.EncodingMP3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := NewProducer(tt.provider, tt.decoder)
			_, err := producer.Synthesize(context.Background(), 3, "Lunges", "en")
			require.Error(t, err)

			var synthErr *SynthesisError
			require.True(t, errors.As(err, &synthErr))
			assert.Equal(t, 3, synthErr.Index)
			assert.Equal(t, "Lunges", synthErr.Text)
			assert.Contains(t, err.Error(), "instruction 3")
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestSynthesizeFailureIsNotMemoized(t *testing.T) {
	p := &stubProvider{err: errors.New("flaky")}
	producer := NewProducer(p, nil)

	_, err := producer.Synthesize(context.Background(), 0, "Plank", "en")
	require.Error(t, err)

	p.err = nil
	_, err = producer.Synthesize(context.Background(), 0, "Plank", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestSynthesizeUsesDecoder(t *testing.T) {
	dec := &stubDecoder{}
	producer := NewProducer(&stubProvider{encoding: tts.EncodingMP3}, dec)

	seg, err := producer.Synthesize(context.Background(), 0, "Burpees", "en")
	require.NoError(t, err)
	assert.Equal(t, audio.FormatCD, seg.Format)
	assert.Equal(t, int32(1), dec.calls.Load())
}

func TestCountdownTicks(t *testing.T) {
	p := &stubProvider{}
	cd := NewCountdown(NewProducer(p, nil))
	ctx := WithSession(context.Background())

	seg, err := cd.Render(ctx, 5, "en")
	require.NoError(t, err)
	assert.Equal(t, 5*stubRate, seg.Frames(), "short numbers are padded to one tick each")
	assert.Equal(t, int32(5), p.calls.Load())

	again, err := cd.Render(ctx, 5, "en")
	require.NoError(t, err)
	assert.Same(t, seg, again)
	assert.Equal(t, int32(5), p.calls.Load())

	// 3, 2 and 1 were already spoken by the first countdown.
	_, err = cd.Render(ctx, 3, "en")
	require.NoError(t, err)
	assert.Equal(t, int32(5), p.calls.Load())

	fresh, err := cd.Render(WithSession(context.Background()), 5, "en")
	require.NoError(t, err)
	assert.NotSame(t, seg, fresh)
	assert.Equal(t, int32(10), p.calls.Load())
}

func TestCountdownLongNumbers(t *testing.T) {
	cd := NewCountdown(NewProducer(&stubProvider{}, nil))
	cd.Tick = 5 * time.Millisecond // a spoken digit lasts 10ms

	seg, err := cd.Render(context.Background(), 2, "en")
	require.NoError(t, err)
	digit := stubRate / 100
	gap := audio.Format{SampleRate: stubRate, Channels: 1}.FramesFor(DefaultMinGap)
	assert.Equal(t, 2*(digit+gap), seg.Frames())
}

func TestCountdownErrors(t *testing.T) {
	cd := NewCountdown(NewProducer(&stubProvider{err: errors.New("down")}, nil))

	_, err := cd.Render(context.Background(), 3, "en")
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, -1, synthErr.Index)
	assert.Equal(t, "3", synthErr.Text)

	_, err = cd.Render(context.Background(), 0, "en")
	assert.Error(t, err)
}
