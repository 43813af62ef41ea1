package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/realtime-ai/workout-audio/pkg/config"
	"github.com/realtime-ai/workout-audio/pkg/logger"
	"github.com/realtime-ai/workout-audio/pkg/trace"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

var version = "dev"

type globalFlags struct {
	logLevel string
}

func main() {
	var g globalFlags
	root := newRenderCmd(&g)
	root.Version = version
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	root.AddCommand(newServeCmd(&g))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		var (
			ve *workout.ValidationError
			pe *config.ParseError
		)
		switch {
		case errors.As(err, &ve):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		case errors.As(err, &pe):
			fmt.Fprintf(os.Stderr, "Error parsing configuration file: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Error generating audio: %v\n", err)
		}
		os.Exit(1)
	}
}

// setup loads configuration and starts logging and tracing. The returned
// func flushes spans.
func setup(ctx context.Context, g *globalFlags, name string) (*config.Config, hclog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	log := logger.New(cfg.LoggerConfig(name))

	tc := cfg.TracingConfig()
	tc.Version = version
	if err := trace.Initialize(ctx, tc); err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	shutdown := func() {
		if err := trace.Shutdown(context.Background()); err != nil {
			log.Warn("trace shutdown", "error", err)
		}
	}
	return cfg, log, shutdown, nil
}
