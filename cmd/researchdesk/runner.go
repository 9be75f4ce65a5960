package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"researchdesk/config"
	"researchdesk/internal/runner"
	"researchdesk/internal/runtime"
	"researchdesk/internal/scoring"
	"researchdesk/internal/secrets"
	"researchdesk/internal/store"
	"researchdesk/provider"
)

// runnerCMD runs the agent-run consumer on its own, for deployments that
// scale the API separately from run execution.
func runnerCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "runner",
		Short: "Run the agent-run queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			tele, meter, tracer, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
				ServiceName:    "researchdesk-runner",
				ServiceVersion: "dev",
				MetricsPort:    cfg.Telemetry.MetricsPort,
			})
			if err != nil {
				return err
			}
			defer func() { _ = tele.Shutdown(context.Background()) }()

			logger := log.New(os.Stdout, "[RUNNER] ", log.LstdFlags)
			return runConsumer(ctx, cfg, logger, meter, tracer)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

// runConsumer wires the store, LLM provider, and executor into a Runner and
// blocks until the context is cancelled. The queue assumes a single consumer;
// with redis configured and the guard enabled, extra replicas refuse to
// start instead of double-claiming runs.
func runConsumer(ctx context.Context, cfg *config.Config, logger *log.Logger, meter otelmetric.Meter, tracer trace.Tracer) error {
	rc := cfg.Runner.Normalize()

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	cipher, err := secrets.New(cfg.Encryption.Key, cfg.Encryption.IV)
	if err != nil {
		return fmt.Errorf("encryption config: %w", err)
	}
	llm, err := provider.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	if rc.ConsumerGuardLock && cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		defer func() { _ = rdb.Close() }()

		lock := runner.NewConsumerLock(rdb, logger, rc.GuardLockKey, rc.GuardLockTTL)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("another run consumer holds the lock %q", rc.GuardLockKey)
		}
	}

	exec := runner.NewExecutor(logger, llm, cipher, rc.HTTPTimeout, cfg.LLM.DefaultModel, rc.ReduceHTMLForLLM)
	recalc := &scoring.Recalculator{Store: st, Logger: logger}
	r := runner.NewRunner(logger, st, exec, recalc, rc.PollInterval, meter, tracer)
	return r.Start(ctx)
}
