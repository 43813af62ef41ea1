package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/realtime-ai/workout-audio/pkg/codec"
	"github.com/realtime-ai/workout-audio/pkg/config"
	"github.com/realtime-ai/workout-audio/pkg/pipeline"
	"github.com/realtime-ai/workout-audio/pkg/playback"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

type renderFlags struct {
	output      string
	format      string
	language    string
	backgrounds []string
	play        bool
	noCountdown bool
}

func newRenderCmd(g *globalFlags) *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "workout-audio <config-file>",
		Short: "Generate workout audio guides with spoken instructions",
		Long: `Generate a workout audio guide from a JSON, YAML or plain text file.

Plain text files hold one instruction per line as "text | seconds"; lines
starting with # are comments, and "# language: xx" or "# background: url"
set the language and add background music.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, g, &f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file (default: config file with the format's extension)")
	cmd.Flags().StringVar(&f.format, "format", "", "output format: mp3 or wav (default from WORKOUT_FORMAT)")
	cmd.Flags().StringVar(&f.language, "language", "", "spoken language, overrides the file")
	cmd.Flags().StringArrayVar(&f.backgrounds, "background", nil, "background music URL, may be repeated")
	cmd.Flags().BoolVar(&f.play, "play", false, "play the result after rendering")
	cmd.Flags().BoolVar(&f.noCountdown, "no-countdown", false, "disable spoken countdowns")
	return cmd
}

func runRender(cmd *cobra.Command, g *globalFlags, f *renderFlags, path string) error {
	ctx := cmd.Context()
	cfg, log, shutdown, err := setup(ctx, g, "workout-audio")
	if err != nil {
		return err
	}
	defer shutdown()

	spec, err := config.ParseFile(path)
	if err != nil {
		return err
	}
	applyOverrides(spec, cfg, f)

	if f.format != "" {
		cfg.Audio.Format = f.format
	}
	if f.noCountdown {
		cfg.Countdown.Enabled = false
	}
	exporter, err := codec.NewExporter(cfg.Audio.Format)
	if err != nil {
		return err
	}
	output := f.output
	if output == "" {
		output = defaultOutput(path, exporter.Extension())
	}

	// Fail on bad input before touching the TTS provider or the network.
	if err := workout.Validate(spec.Instructions); err != nil {
		return err
	}

	bus := pipeline.NewEventBus()
	stopProgress := reportProgress(bus, log, len(spec.Instructions))
	defer stopProgress()

	p, err := buildPipeline(cfg, exporter, bus, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generating workout guide with %d instructions...\n", len(spec.Instructions))
	fmt.Fprintf(out, "Language: %s\n", spec.Lang())
	if n := len(spec.Backgrounds()); n > 0 {
		fmt.Fprintf(out, "Using %d background tracks\n", n)
	}

	res, err := p.RunFile(ctx, spec, output)
	if err != nil {
		return err
	}
	if abs, err := filepath.Abs(output); err == nil {
		output = abs
	}
	fmt.Fprintf(out, "Workout guide saved to %s (%s)\n", output, res.Duration().Round(time.Second))

	if f.play {
		return playback.Play(ctx, res.Segment, log)
	}
	return nil
}

func applyOverrides(spec *workout.Spec, cfg *config.Config, f *renderFlags) {
	if f.language != "" {
		spec.Language = f.language
	}
	if spec.Language == "" {
		spec.Language = cfg.Language
	}
	spec.BackgroundURLs = append(spec.BackgroundURLs, f.backgrounds...)
}

// defaultOutput swaps the config file's extension for ext.
func defaultOutput(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// reportProgress logs render events until the returned func is called.
func reportProgress(bus pipeline.Bus, log hclog.Logger, total int) func() {
	events := make(chan pipeline.Event, 64)
	types := []pipeline.EventType{
		pipeline.EventInstructionReady,
		pipeline.EventBackgroundReady,
		pipeline.EventStageFinished,
		pipeline.EventWarning,
	}
	for _, t := range types {
		bus.Subscribe(t, events)
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ready := 0
		for {
			select {
			case <-done:
				return
			case evt := <-events:
				switch payload := evt.Payload.(type) {
				case pipeline.InstructionEvent:
					ready++
					log.Info("instruction ready", "index", payload.Index, "progress", fmt.Sprintf("%d/%d", ready, total))
				case pipeline.StageEvent:
					log.Debug("stage finished", "stage", payload.Stage, "duration", payload.Duration)
				default:
					log.Info(evt.Type.String(), "detail", fmt.Sprint(payload))
				}
			}
		}
	}()

	return func() {
		for _, t := range types {
			bus.Unsubscribe(t, events)
		}
		close(done)
		<-finished
	}
}
