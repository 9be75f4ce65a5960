package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"researchdesk/config"
	"researchdesk/internal/runtime"
	srv "researchdesk/internal/server"
)

// serveCMD runs the HTTP API and the run consumer in one process. The
// consumer can be split out with the runner command when the API is scaled
// horizontally.
func serveCMD() *cobra.Command {
	var cfgPath string
	var withRunner bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tele, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
				ServiceName:    "researchdesk",
				ServiceVersion: "dev",
				MetricsPort:    cfg.Telemetry.MetricsPort,
			})
			if err != nil {
				return err
			}
			defer func() { _ = tele.Shutdown(context.Background()) }()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger := log.New(os.Stdout, "[HTTP] ", log.LstdFlags)
				return srv.Run(ctx, cfg, logger)
			})
			if withRunner {
				g.Go(func() error {
					logger := log.New(os.Stdout, "[RUNNER] ", log.LstdFlags)
					return runConsumer(ctx, cfg, logger, meter, tracer)
				})
			}
			return g.Wait()
		},
	}
	serve.Flags().BoolVar(&withRunner, "with-runner", true, "run the agent-run consumer in-process")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
