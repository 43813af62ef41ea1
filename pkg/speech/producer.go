// Package speech turns instruction text into decoded audio segments and
// renders spoken countdowns.
package speech

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/metrics"
	"github.com/realtime-ai/workout-audio/pkg/trace"
	"github.com/realtime-ai/workout-audio/pkg/tts"
)

// ErrEmptyAudio is returned when a provider answers with no audio.
var ErrEmptyAudio = errors.New("provider returned no audio")

// SynthesisError reports a failure to produce speech for one text. Index is
// the instruction position, or -1 for countdown numbers.
type SynthesisError struct {
	Index int
	Text  string
	Err   error
}

func (e *SynthesisError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("synthesize instruction %d (%q): %v", e.Index, e.Text, e.Err)
	}
	return fmt.Sprintf("synthesize %q: %v", e.Text, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Decoder decodes compressed provider output (mp3, wav...).
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.Segment, error)
}

// DefaultCallTimeout bounds one shared provider call.
const DefaultCallTimeout = 2 * time.Minute

// Producer synthesizes instruction text through a TTS provider. Concurrent
// requests for the same (text, language) share one provider call, which runs
// detached from any single caller so that one caller giving up does not fail
// the others. Results are memoized only inside a render session (see
// WithSession). Returned segments are shared and must be treated as
// read-only.
type Producer struct {
	provider    tts.TTSProvider
	decoder     Decoder
	voice       string
	callTimeout time.Duration
	logger      hclog.Logger

	group singleflight.Group
}

// Option configures a Producer.
type Option func(*Producer)

// WithVoice selects the provider voice.
func WithVoice(voice string) Option {
	return func(p *Producer) { p.voice = voice }
}

// WithCallTimeout bounds each shared provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Producer) { p.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(p *Producer) { p.logger = l }
}

// NewProducer creates a Producer. decoder may be nil when the provider only
// returns raw PCM.
func NewProducer(provider tts.TTSProvider, decoder Decoder, opts ...Option) *Producer {
	p := &Producer{
		provider:    provider,
		decoder:     decoder,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.callTimeout <= 0 {
		p.callTimeout = DefaultCallTimeout
	}
	p.logger = logger.OrNull(p.logger).Named("speech")
	return p
}

// Synthesize returns the spoken form of text. Any failure is a
// *SynthesisError carrying index. It returns as soon as ctx is done even if
// the shared provider call is still running for other callers.
func (p *Producer) Synthesize(ctx context.Context, index int, text, language string) (*audio.Segment, error) {
	key := language + "\x00" + text
	sess := sessionFrom(ctx)
	if seg, ok := sess.speech(key); ok {
		return seg, nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.callTimeout)
		defer cancel()
		return p.synthesize(callCtx, index, text, language)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &SynthesisError{Index: index, Text: text, Err: ctx.Err()}
	}
	if res.Err != nil {
		var synthErr *SynthesisError
		if errors.As(res.Err, &synthErr) && synthErr.Index != index {
			// Shared call made on behalf of another instruction.
			return nil, &SynthesisError{Index: index, Text: text, Err: synthErr.Err}
		}
		return nil, res.Err
	}
	seg := res.Val.(*audio.Segment)
	sess.storeSpeech(key, seg)
	return seg, nil
}

func (p *Producer) synthesize(ctx context.Context, index int, text, language string) (*audio.Segment, error) {
	ctx, span := trace.InstrumentTTSRequest(ctx, p.provider.Name(), index, text)
	defer span.End()

	fail := func(err error) (*audio.Segment, error) {
		trace.RecordError(span, err)
		p.logger.Error("synthesis failed", "index", index, "provider", p.provider.Name(), "error", err)
		return nil, &SynthesisError{Index: index, Text: text, Err: err}
	}

	start := time.Now()
	resp, err := p.provider.Synthesize(ctx, &tts.SynthesizeRequest{
		Text:     text,
		Voice:    p.voice,
		Language: language,
	})
	metrics.RecordTTSRequest(p.provider.Name(), err == nil, time.Since(start))
	if err != nil {
		return fail(err)
	}
	if len(resp.AudioData) == 0 {
		return fail(ErrEmptyAudio)
	}

	seg, err := p.decode(ctx, resp)
	if err != nil {
		return fail(err)
	}
	if seg.Empty() {
		return fail(ErrEmptyAudio)
	}

	trace.SetAttributes(span, trace.AudioAttrs(seg.SampleRate, seg.Channels, seg.Frames())...)
	p.logger.Debug("synthesized", "index", index, "duration", seg.Duration(), "format", seg.Format.String())
	return seg, nil
}

func (p *Producer) decode(ctx context.Context, resp *tts.SynthesizeResponse) (*audio.Segment, error) {
	if resp.AudioFormat.IsRawPCM() {
		f := audio.Format{SampleRate: resp.AudioFormat.SampleRate, Channels: resp.AudioFormat.Channels}
		if f.Channels == 0 {
			f.Channels = 1
		}
		return audio.FromS16LE(f, resp.AudioData)
	}
	if p.decoder == nil {
		return nil, fmt.Errorf("no decoder for %s output", resp.AudioFormat.Encoding)
	}
	seg, err := p.decoder.Decode(ctx, resp.AudioData)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", resp.AudioFormat.Encoding, err)
	}
	return seg, nil
}

// Provider returns the name of the underlying TTS provider.
func (p *Producer) Provider() string {
	return p.provider.Name()
}
