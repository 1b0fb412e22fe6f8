// Package cmd parse args to configure application.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"mediabot/coordinator"
	"mediabot/database/memory"
	"mediabot/logging"
	"mediabot/metric"
	"mediabot/service"
)

const shutdownTimeout = 10 * time.Second

// Run starts the application and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	config, err := SetupConfig(stdout, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	if err := logging.Configure(config.Logging, stderr); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch config.Command {
	case CommandJoin:
		err = join(ctx, config)
	case CommandServe:
		err = serve(ctx, config)
	}
	if err != nil {
		log.Error().Str("module", "cmd").Err(err).Msg("exited with error")
		return 1
	}
	return 0
}

// join runs one session until it ends or the process is interrupted.
func join(ctx context.Context, config Config) error {
	sc := config.Join.Session()
	log.Info().Str("module", "cmd").Str("uri", sc.URI).Msg("joining room")

	runner := coordinator.NewSessionRunner(config.Coordinator, nil)
	return runner.RunSession(ctx, config.Join.PeerID, sc, nil)
}

// serve runs the trigger service and the metrics server until the process is
// interrupted.
func serve(ctx context.Context, config Config) error {
	var metrics *metric.Metrics
	if config.Metrics.Port > 0 {
		metrics = metric.New(config.Metrics)
		metrics.Start()
		go metrics.UpdateSystemMetrics(ctx, metric.DefaultSystemInterval)
	}

	cod := coordinator.New(config.Coordinator, memory.New(), coordinator.NewSessionRunner(config.Coordinator, metrics), metrics)
	srv := service.New(config.Service, cod)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var err error
	select {
	case <-ctx.Done():
		log.Info().Str("module", "cmd").Msg("shutting down")
	case err = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return errors.Join(
		err,
		srv.Shutdown(shutdownCtx),
		cod.Shutdown(shutdownCtx),
		metrics.Stop(shutdownCtx),
	)
}

// Main is the entrypoint used by package main.
func Main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}
