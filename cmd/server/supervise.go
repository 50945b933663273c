package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

const restartDelay = 3 * time.Second

func newSuperviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run serve in a child process and restart it on request",
		Long:  "supervise starts `apphub serve` and starts it again whenever it exits with the restart code. Any other exit ends supervision with the same code.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			configPath, _ := cmd.Flags().GetString("config")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			code, err := supervise(ctx, log, restartDelay, func(ctx context.Context) *exec.Cmd {
				return exec.CommandContext(ctx, self, "serve", "--config", configPath)
			})
			if err != nil {
				return err
			}
			if code != services.ExitCodeStop {
				log.Sync()
				os.Exit(code)
			}
			return nil
		},
	}
}

// supervise runs the child built by newChild until it exits with anything
// but the restart code. Cancelling ctx forwards SIGTERM to the child.
func supervise(ctx context.Context, log *logger.Logger, delay time.Duration, newChild func(ctx context.Context) *exec.Cmd) (int, error) {
	for {
		child := newChild(ctx)
		child.Stdin, child.Stdout, child.Stderr = os.Stdin, os.Stdout, os.Stderr
		child.Cancel = func() error { return child.Process.Signal(syscall.SIGTERM) }
		child.WaitDelay = 30 * time.Second

		log.Infow("supervise_child_start", "path", child.Path, "args", child.Args[1:])
		err := child.Run()

		code := 0
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			code = exitErr.ExitCode()
		default:
			return 1, fmt.Errorf("start child: %w", err)
		}

		if ctx.Err() != nil {
			log.Infow("supervise_stopped", "exit_code", code)
			return code, nil
		}
		if code != services.ExitCodeRestart {
			log.Infow("supervise_child_exit", "exit_code", code)
			return code, nil
		}

		log.Infow("supervise_child_restart", "delay", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return services.ExitCodeStop, nil
		}
	}
}
