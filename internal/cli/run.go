package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/ttcflow/internal/runtime"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StatusPort      int
	ShutdownTimeout time.Duration

	// Dependencies lets tests swap the worker's collaborators.
	Dependencies runtimepkg.WorkerDependencies
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker until interrupted",
		Long: `Run the worker: open the participant store, subscribe to the control,
inbound and event topics and handle messages until SIGINT or SIGTERM.

Example:
  TTC_TRANSPORT_NAME=sms TTC_STORE_DRIVER=sqlite3 TTC_STORE_SQLITE_FILE=./ttc.db ttcworker run
  ttcworker run --env-file ./worker.env --status-port 8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.StatusPort, "status-port", 0, "serve /healthz, /api/status and /metrics on this port (overrides TTC_STATUS_PORT)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "how long to wait for in-flight messages on shutdown")

	return cmd
}

func runWorker(cmd *cobra.Command, opts *RunOptions) error {
	conf, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.StatusPort > 0 {
		conf.StatusPort = opts.StatusPort
	}
	logger, err := newLogger(conf, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting ttcworker", loggingpkg.LogFields{"config": conf.String()})

	tr, err := runtimepkg.BuildTransport(ctx, conf, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build transport", err)
	}
	defer func() {
		if closeErr := tr.Close(); closeErr != nil {
			logger.Error("Failed to close transport", closeErr, nil)
		}
	}()

	worker, err := runtimepkg.NewWorker(conf, logger, tr, opts.Dependencies)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create worker", err)
	}
	if err := worker.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start worker", err)
	}

	var status *runtimepkg.StatusServer
	if conf.StatusPort > 0 {
		status = runtimepkg.NewStatusServer(worker, conf.StatusCORSAllowedOrigins)
		if err := status.Start(conf.StatusPort); err != nil {
			_ = worker.Stop(context.Background())
			return WrapExitError(ExitFailure, "failed to start status server", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Worker %q running on %s. Press Ctrl-C to stop.\n", conf.TransportName, worker.Capabilities().Name)
	<-ctx.Done()
	logger.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()

	if status != nil {
		if err := status.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop status server", err, nil)
		}
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "worker did not stop cleanly", err)
	}

	stats := worker.Stats()
	logger.Info("Worker stopped", loggingpkg.LogFields{"control_messages": stats.AuditTotal})
	return nil
}
