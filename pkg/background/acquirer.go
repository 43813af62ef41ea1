package background

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/metrics"
	"github.com/realtime-ai/workout-audio/pkg/trace"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// Acquisition defaults.
const (
	DefaultRetries        = 2
	DefaultConcurrency    = 3
	DefaultAttemptTimeout = 5 * time.Minute
	DefaultInitialBackoff = 2 * time.Second
)

// Options configures an Acquirer.
type Options struct {
	// Strategies is the fallback chain, tried strictly in order.
	Strategies []Strategy
	// Cache is optional. Cache failures are logged and otherwise ignored.
	Cache Cache
	// Resampler conforms tracks of different formats before joining them.
	Resampler audio.Resampler
	Logger    hclog.Logger

	Retries        int // per strategy, transient failures only; 0 uses the default, negative disables
	Concurrency    int // sources fetched at once
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
}

// Acquirer turns background source URLs into a music bed.
type Acquirer struct {
	opts   Options
	logger hclog.Logger
}

// NewAcquirer fills unset options with defaults.
func NewAcquirer(opts Options) *Acquirer {
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	return &Acquirer{
		opts:   opts,
		logger: logger.OrNull(opts.Logger).Named("background"),
	}
}

// DefaultChain returns the standard fallback order: the yt-dlp variants
// followed by Invidious.
func DefaultChain(ytdlp YtDLPConfig, invidiousInstances []string, decoder BytesDecoder) []Strategy {
	return []Strategy{
		NewYtDLPPrimary(ytdlp),
		NewYtDLPBrowser(ytdlp),
		NewYtDLPMinimal(ytdlp),
		NewYtDLPLowest(ytdlp),
		NewInvidious(invidiousInstances, decoder),
	}
}

// Acquire fetches every source and joins the successes in input order.
// Duplicate URLs are fetched once and malformed ones are skipped. Failures
// never surface as errors: a source that defeats the whole chain is dropped,
// and when nothing succeeds the result is audio.NoBed().
func (a *Acquirer) Acquire(ctx context.Context, urls []string) audio.Bed {
	var sources []string
	for _, u := range workout.Dedupe(urls) {
		if !workout.IsRemoteURL(u) {
			a.logger.Warn("skipping malformed background url", "url", u)
			continue
		}
		sources = append(sources, u)
	}
	if len(sources) == 0 || len(a.opts.Strategies) == 0 {
		return audio.NoBed()
	}

	tracks := make([]*audio.Segment, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			seg, err := a.acquireOne(gctx, src)
			if err != nil {
				var acqErr *AcquisitionError
				if errors.As(err, &acqErr) {
					metrics.RecordAcquisitionFailure()
				}
				a.logger.Warn("dropping background source", "url", src, "error", err)
				return nil
			}
			tracks[i] = seg
			return nil
		})
	}
	_ = g.Wait()

	return a.join(tracks)
}

func (a *Acquirer) acquireOne(ctx context.Context, url string) (*audio.Segment, error) {
	if a.opts.Cache != nil {
		seg, ok, err := a.opts.Cache.Get(url)
		if err != nil {
			a.logger.Warn("cache read failed", "url", url, "error", err)
		}
		metrics.RecordCacheLookup(ok)
		if ok && !seg.Empty() {
			a.logger.Debug("cache hit", "url", url)
			return seg, nil
		}
	}

	acqErr := &AcquisitionError{URL: url}
	for _, s := range a.opts.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := a.attempt(ctx, s, url)
		if err == nil {
			a.logger.Info("background acquired", "url", url, "strategy", s.Name(), "duration", seg.Duration())
			if a.opts.Cache != nil {
				if err := a.opts.Cache.Put(url, seg); err != nil {
					a.logger.Warn("cache write failed", "url", url, "error", err)
				}
			}
			return seg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Debug("strategy failed", "url", url, "strategy", s.Name(), "error", err)
		acqErr.Failures = append(acqErr.Failures, StrategyFailure{Strategy: s.Name(), Err: err})
	}
	return nil, acqErr
}

// attempt runs one strategy, retrying transient failures with exponential
// backoff. Permanent failures return at once.
func (a *Acquirer) attempt(ctx context.Context, s Strategy, url string) (*audio.Segment, error) {
	ctx, span := trace.InstrumentStrategyAttempt(ctx, s.Name(), url)
	defer span.End()

	var seg *audio.Segment
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.opts.AttemptTimeout)
		defer cancel()

		got, err := s.Fetch(attemptCtx, url)
		if err == nil && got.Empty() {
			err = fmt.Errorf("%s returned an empty track: %w", s.Name(), ErrNoAudio)
		}
		switch {
		case err == nil:
			metrics.RecordStrategyAttempt(s.Name(), metrics.OutcomeSuccess)
			seg = got
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case IsTransient(err):
			metrics.RecordStrategyAttempt(s.Name(), "transient")
			return err
		default:
			metrics.RecordStrategyAttempt(s.Name(), "permanent")
			return backoff.Permanent(err)
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.opts.Retries)), ctx)

	notify := func(err error, wait time.Duration) {
		a.logger.Debug("transient failure, retrying", "strategy", s.Name(), "url", url, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		trace.RecordError(span, err)
		return nil, err
	}
	return seg, nil
}

// join conforms the acquired tracks to the widest format among them and
// concatenates them in order.
func (a *Acquirer) join(tracks []*audio.Segment) audio.Bed {
	var target audio.Format
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if t.SampleRate > target.SampleRate {
			target.SampleRate = t.SampleRate
		}
		if t.Channels > target.Channels {
			target.Channels = t.Channels
		}
	}
	if !target.Valid() {
		return audio.NoBed()
	}

	parts := make([]*audio.Segment, 0, len(tracks))
	for i, t := range tracks {
		if t == nil {
			continue
		}
		conformed, err := audio.Conform(t, target, a.opts.Resampler)
		if err != nil {
			a.logger.Warn("dropping background track", "index", i, "error", err)
			continue
		}
		parts = append(parts, conformed)
	}

	bed, err := audio.Concat(target, parts...)
	if err != nil {
		a.logger.Warn("joining background tracks failed", "error", err)
		return audio.NoBed()
	}
	return audio.NewBed(bed)
}
