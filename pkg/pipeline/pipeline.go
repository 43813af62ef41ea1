// Package pipeline runs one workout render end to end: validation, speech
// and background acquisition in parallel, compositing, loudness
// normalization and export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/loudness"
	"github.com/realtime-ai/workout-audio/pkg/metrics"
	"github.com/realtime-ai/workout-audio/pkg/mix"
	"github.com/realtime-ai/workout-audio/pkg/speech"
	"github.com/realtime-ai/workout-audio/pkg/trace"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// Stage names used for spans, metrics and events.
const (
	StageValidate   = "validate"
	StageSpeech     = "speech"
	StageBackground = "background"
	StageComposite  = "composite"
	StageNormalize  = "normalize"
	StageExport     = "export"
)

// DefaultSpeechConcurrency bounds parallel TTS requests per render.
const DefaultSpeechConcurrency = 4

// Synthesizer turns one instruction's text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, index int, text, language string) (*audio.Segment, error)
}

// CountdownRenderer renders a spoken countdown from n to 1.
type CountdownRenderer interface {
	Render(ctx context.Context, n int, language string) (*audio.Segment, error)
}

// BedAcquirer resolves background sources. It never fails; an unusable
// background comes back as audio.NoBed().
type BedAcquirer interface {
	Acquire(ctx context.Context, urls []string) audio.Bed
}

// Exporter encodes the final signal to a stream.
type Exporter interface {
	Export(ctx context.Context, seg *audio.Segment, w io.Writer) error
}

// FileExporter can also publish straight to a path.
type FileExporter interface {
	Exporter
	ExportFile(ctx context.Context, seg *audio.Segment, path string) error
}

// StageError wraps a failure with the stage it happened in. Only export
// failures are wrapped; earlier stages return their own typed errors.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Options wires a Pipeline. Speech and Compositor are required; Run and
// RunFile also need an Exporter.
type Options struct {
	Speech     Synthesizer
	Countdown  CountdownRenderer   // nil disables countdowns
	Policy     mix.CountdownPolicy // nil uses mix.DefaultPolicy()
	Background BedAcquirer         // nil ignores background URLs
	Compositor *mix.Compositor
	Exporter   Exporter

	Limits            *workout.Limits // nil uses workout.DefaultLimits()
	TargetLUFS        float64         // 0 uses loudness.DefaultTargetLUFS
	SpeechConcurrency int

	Logger hclog.Logger
	Bus    Bus
}

// Pipeline renders workouts. It is safe for concurrent use; each render
// owns its data.
type Pipeline struct {
	opts   Options
	limits workout.Limits
	logger hclog.Logger
}

// New validates the wiring and fills defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Speech == nil {
		return nil, errors.New("pipeline: speech synthesizer is required")
	}
	if opts.Compositor == nil {
		return nil, errors.New("pipeline: compositor is required")
	}
	if opts.Policy == nil {
		opts.Policy = mix.DefaultPolicy()
	}
	if opts.Countdown == nil {
		opts.Policy = mix.NoCountdown
	}
	if opts.TargetLUFS == 0 {
		opts.TargetLUFS = loudness.DefaultTargetLUFS
	}
	if opts.SpeechConcurrency <= 0 {
		opts.SpeechConcurrency = DefaultSpeechConcurrency
	}
	limits := workout.DefaultLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}
	return &Pipeline{
		opts:   opts,
		limits: limits,
		logger: logger.OrNull(opts.Logger).Named("pipeline"),
	}, nil
}

// Result is a rendered workout.
type Result struct {
	RequestID string
	Segment   *audio.Segment
	Timeline  *mix.Timeline
	Loudness  loudness.Report
	BedUsed   bool
	BedGainDB float64
}

// Duration returns the length of the rendered audio.
func (r *Result) Duration() time.Duration {
	return r.Segment.Duration()
}

type requestIDKey struct{}

// WithRequestID tags ctx with the id used in logs and spans.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Render produces the normalized mix for spec. Nothing is synthesized or
// fetched until the instructions pass validation.
func (p *Pipeline) Render(ctx context.Context, spec *workout.Spec) (*Result, error) {
	return p.run(ctx, spec, nil)
}

// Run renders spec and encodes it to w.
func (p *Pipeline) Run(ctx context.Context, spec *workout.Spec, w io.Writer) (*Result, error) {
	if p.opts.Exporter == nil {
		return nil, errNoExporter
	}
	return p.run(ctx, spec, func(ctx context.Context, seg *audio.Segment) error {
		return p.opts.Exporter.Export(ctx, seg, w)
	})
}

// RunFile renders spec and writes it to path. The exporter must be a
// FileExporter.
func (p *Pipeline) RunFile(ctx context.Context, spec *workout.Spec, path string) (*Result, error) {
	fe, ok := p.opts.Exporter.(FileExporter)
	if !ok {
		return nil, errNoExporter
	}
	return p.run(ctx, spec, func(ctx context.Context, seg *audio.Segment) error {
		return fe.ExportFile(ctx, seg, path)
	})
}

// WithExporter returns a pipeline sharing p's producers that encodes with e.
func (p *Pipeline) WithExporter(e Exporter) *Pipeline {
	cp := *p
	cp.opts.Exporter = e
	return &cp
}

var errNoExporter = errors.New("pipeline: no exporter configured")

// run renders spec and hands the result to sink when one is given.
func (p *Pipeline) run(ctx context.Context, spec *workout.Spec, sink func(context.Context, *audio.Segment) error) (res *Result, err error) {
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = WithRequestID(ctx, id)
	}
	ctx = speech.WithSession(ctx)
	ctx, span := trace.InstrumentRender(ctx, id,
		trace.WorkoutAttrs(len(spec.Instructions), spec.TotalSeconds(), len(spec.Backgrounds()), spec.Lang())...)
	defer span.End()

	log := p.logger.With("request_id", id)
	log = log.With(trace.LogArgs(ctx)...)
	start := time.Now()
	defer func() {
		outcome := Outcome(err)
		metrics.RecordRender(outcome)
		if err != nil {
			trace.RecordError(span, err)
			log.Error("render failed", "outcome", outcome, "error", err)
			p.publish(EventError, err)
			return
		}
		log.Info("render finished",
			"duration", res.Duration(),
			"elapsed", time.Since(start),
			"lufs", res.Loudness.MeasuredLUFS,
			"gain_db", res.Loudness.GainDB,
			"background", res.BedUsed)
	}()

	if err := p.stage(ctx, StageValidate, func(context.Context) error {
		return p.limits.Validate(spec.Instructions)
	}); err != nil {
		return nil, err
	}
	log.Info("rendering workout",
		"instructions", len(spec.Instructions),
		"seconds", spec.TotalSeconds(),
		"language", spec.Lang(),
		"backgrounds", len(spec.Backgrounds()))

	clips, bed, err := p.produce(ctx, spec)
	if err != nil {
		return nil, err
	}

	var mixed *mix.Result
	if err := p.stage(ctx, StageComposite, func(context.Context) error {
		var err error
		mixed, err = p.opts.Compositor.Compose(spec.Instructions, clips, bed)
		return err
	}); err != nil {
		return nil, err
	}
	if n := mixed.Timeline.Overruns(); n > 0 {
		log.Warn("speech overran its slot", "instructions", n)
		p.publish(EventWarning, fmt.Sprintf("%d instruction(s) longer than their duration", n))
	}

	res = &Result{
		RequestID: id,
		Timeline:  mixed.Timeline,
		BedUsed:   mixed.BedUsed,
		BedGainDB: mixed.BedGainDB,
	}
	err = p.stage(ctx, StageNormalize, func(ctx context.Context) error {
		// The compositor's output belongs to this render.
		res.Segment = mixed.Segment
		res.Loudness = loudness.NormalizeInPlace(res.Segment, p.opts.TargetLUFS)
		trace.SetAttributes(trace.SpanFromContext(ctx), trace.LoudnessAttrs(res.Loudness.MeasuredLUFS, res.Loudness.GainDB)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sink != nil {
		if err := p.stage(ctx, StageExport, func(ctx context.Context) error {
			return sink(ctx, res.Segment)
		}); err != nil {
			return nil, &StageError{Stage: StageExport, Err: err}
		}
	}
	return res, nil
}

// produce synthesizes every instruction while the background is acquired.
func (p *Pipeline) produce(ctx context.Context, spec *workout.Spec) ([]mix.Clip, audio.Bed, error) {
	clips := make([]mix.Clip, len(spec.Instructions))
	bed := audio.NoBed()
	lang := spec.Lang()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.stage(gctx, StageSpeech, func(ctx context.Context) error {
			sg, sctx := errgroup.WithContext(ctx)
			sg.SetLimit(p.opts.SpeechConcurrency)
			for i, in := range spec.Instructions {
				sg.Go(func() error {
					clip, err := p.clip(sctx, i, in, lang)
					if err != nil {
						return err
					}
					clips[i] = clip
					p.publish(EventInstructionReady, InstructionEvent{Index: i, Duration: clip.Speech.Duration()})
					return nil
				})
			}
			return sg.Wait()
		})
	})

	if urls := spec.Backgrounds(); len(urls) > 0 && p.opts.Background != nil {
		g.Go(func() error {
			return p.stage(gctx, StageBackground, func(ctx context.Context) error {
				bed = p.opts.Background.Acquire(ctx, urls)
				p.publish(EventBackgroundReady, bed.String())
				if !bed.Present() {
					p.publish(EventWarning, "no background could be acquired, mixing voice only")
				}
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, audio.NoBed(), err
	}
	// Acquisition swallows cancellation, so check the deadline here.
	if err := ctx.Err(); err != nil {
		return nil, audio.NoBed(), err
	}
	return clips, bed, nil
}

func (p *Pipeline) clip(ctx context.Context, i int, in workout.Instruction, lang string) (mix.Clip, error) {
	speechSeg, err := p.opts.Speech.Synthesize(ctx, i, in.Text, lang)
	if err != nil {
		return mix.Clip{}, err
	}
	clip := mix.Clip{Speech: speechSeg}

	count, placement := p.opts.Policy.Plan(i, in)
	if count <= 0 {
		return clip, nil
	}
	cd, err := p.opts.Countdown.Render(ctx, count, lang)
	if err != nil {
		return mix.Clip{}, fmt.Errorf("countdown for instruction %d: %w", i, err)
	}
	clip.Countdown = cd
	clip.Placement = placement
	return clip, nil
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := trace.InstrumentStage(ctx, name)
	defer span.End()

	p.publish(EventStageStarted, StageEvent{Stage: name})
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.ObserveStage(name, elapsed)
	p.publish(EventStageFinished, StageEvent{Stage: name, Duration: elapsed, Err: err})

	if err != nil {
		trace.RecordError(span, err)
		return err
	}
	p.logger.Debug("stage finished", "request_id", RequestID(ctx), "stage", name, "elapsed", elapsed)
	return nil
}

func (p *Pipeline) publish(t EventType, payload interface{}) {
	if p.opts.Bus != nil {
		p.opts.Bus.Publish(Event{Type: t, Timestamp: time.Now(), Payload: payload})
	}
}

// Outcome classifies a render error for metrics and transport status codes.
func Outcome(err error) string {
	var (
		validationErr *workout.ValidationError
		synthesisErr  *speech.SynthesisError
		mixErr        *mix.MixError
		stageErr      *StageError
	)
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &validationErr):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &synthesisErr):
		return "synthesis"
	case errors.As(err, &mixErr):
		return "mix"
	case errors.As(err, &stageErr) && stageErr.Stage == StageExport:
		return "export"
	default:
		return metrics.OutcomeError
	}
}
