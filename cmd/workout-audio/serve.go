package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/realtime-ai/workout-audio/pkg/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve POST /workout over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, shutdown, err := setup(ctx, g, "workout-audio-server")
			if err != nil {
				return err
			}
			defer shutdown()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			encs, err := encoders()
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg, nil, nil, log)
			if err != nil {
				return err
			}
			srv, err := server.New(p, server.Config{
				Addr:            cfg.Server.Addr,
				RequestTimeout:  cfg.Server.RequestTimeout,
				Encoders:        encs,
				DefaultFormat:   strings.ToLower(cfg.Audio.Format),
				DefaultLanguage: cfg.Language,
				Logger:          log,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from HTTP_ADDR)")
	return cmd
}
