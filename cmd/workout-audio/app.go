package main

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/realtime-ai/workout-audio/pkg/audio"
	"github.com/realtime-ai/workout-audio/pkg/background"
	"github.com/realtime-ai/workout-audio/pkg/codec"
	"github.com/realtime-ai/workout-audio/pkg/config"
	"github.com/realtime-ai/workout-audio/pkg/mix"
	"github.com/realtime-ai/workout-audio/pkg/pipeline"
	"github.com/realtime-ai/workout-audio/pkg/server"
	"github.com/realtime-ai/workout-audio/pkg/speech"
	"github.com/realtime-ai/workout-audio/pkg/tts"
)

// buildPipeline wires the production components described by cfg.
func buildPipeline(cfg *config.Config, exporter pipeline.Exporter, bus pipeline.Bus, log hclog.Logger) (*pipeline.Pipeline, error) {
	provider, err := tts.NewProvider(cfg.TTSProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("tts provider: %w", err)
	}
	log.Debug("tts provider ready", "provider", provider.Name())

	decoder := codec.NewDecoder(audio.Format{})
	resampler := codec.NewResampler()

	producer := speech.NewProducer(provider, decoder,
		speech.WithVoice(cfg.TTS.Voice),
		speech.WithLogger(log))

	instances := cfg.Background.InvidiousInstances
	if len(instances) == 0 {
		instances = background.DefaultInvidiousInstances
	}
	opts := background.Options{
		Strategies: background.DefaultChain(background.YtDLPConfig{
			Binary:  cfg.Background.YtDLPBinary,
			Decoder: decoder,
		}, instances, decoder),
		Resampler:      resampler,
		Logger:         log,
		Retries:        cfg.Background.Retries,
		Concurrency:    cfg.Background.Concurrency,
		AttemptTimeout: cfg.Background.AttemptTimeout,
	}
	if cfg.Background.Retries == 0 {
		opts.Retries = -1
	}
	if dir := cfg.Background.CacheDir; dir != "" {
		cache, err := background.NewDiskCache(dir)
		if err != nil {
			log.Warn("background cache disabled", "dir", dir, "error", err)
		} else {
			opts.Cache = cache
		}
	}

	compositor := mix.NewCompositor(resampler)
	compositor.BedGainDB = cfg.Audio.BedGainDB
	compositor.Logger = log

	return pipeline.New(pipeline.Options{
		Speech:            producer,
		Countdown:         speech.NewCountdown(producer),
		Policy:            cfg.CountdownPolicy(),
		Background:        background.NewAcquirer(opts),
		Compositor:        compositor,
		Exporter:          exporter,
		TargetLUFS:        cfg.Audio.TargetLUFS,
		SpeechConcurrency: cfg.Audio.SpeechConcurrency,
		Logger:            log,
		Bus:               bus,
	})
}

// encoders returns every output format the service can serve.
func encoders() (map[string]server.Encoder, error) {
	out := make(map[string]server.Encoder)
	for _, format := range []string{codec.FormatMP3, codec.FormatWAV} {
		e, err := codec.NewExporter(format)
		if err != nil {
			return nil, err
		}
		out[format] = e
	}
	return out, nil
}
