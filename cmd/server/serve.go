package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/db"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/infrastructure/remote"
	"github.com/apphub/backend/internal/infrastructure/storage"
	transporthttp "github.com/apphub/backend/internal/transport/http"
	"github.com/apphub/backend/internal/transport/http/handlers"
	httpmw "github.com/apphub/backend/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
)

// systemControlDelay lets the control response reach the browser first.
const systemControlDelay = time.Second

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	repo, closeRepo, err := db.OpenStateRepository(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	state := services.NewStateService(repo, log, cfg.Security.EncryptionKey)
	if key, err := state.LoadAPIKey(cmd.Context()); err != nil {
		log.Warnw("api_key_load_failed", "error", err)
	} else if key == "" {
		log.Info("no api key stored yet; set one from the browser")
	}

	files, closeFiles, err := storage.New(cfg.Storage, log)
	if err != nil {
		closeRepo()
		return fmt.Errorf("failed to open storage: %w", err)
	}

	client := remote.NewClient(cfg.Remote, log)
	queue := services.NewQueueService(client, state, state, cfg.Queue, log)
	forms := services.NewFormService(log)
	templates := services.NewTemplateService(state, queue, client, log)
	runs := services.NewRunService(forms, queue, client, state, files, cfg.Storage.InputsDir, log)
	results := services.NewResultService(files, client, cfg.Storage.Paths, config.SavePaths, log)

	stop := make(chan int, 1)
	system := services.NewSystemService(func(code int) {
		select {
		case stop <- code:
		default:
		}
	}, systemControlDelay, log)

	stream := handlers.NewTaskStream(queue.List, log)
	queue.SetNotifier(stream)

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		BodyLimit:             512 * 1024 * 1024,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "*"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token, " + cfg.Features.RequestIDHeader,
		AllowMethods: "GET, POST, HEAD, PUT, DELETE, PATCH",
	}))

	app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(log))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "tasks": len(queue.List()), "streams": stream.Clients()})
	})

	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Logger:    log,
		Config:    cfg,
		Remote:    client,
		Exchanges: client,
		Inputs:    files,
		State:     state,
		Queue:     queue,
		Forms:     forms,
		Runs:      runs,
		Templates: templates,
		Results:   results,
		System:    system,
		Stream:    stream,
	})

	if err := results.EnsureDirs(cmd.Context()); err != nil {
		log.Warnw("output_dirs_failed", "error", err)
	}
	if err := queue.Restore(cmd.Context()); err != nil {
		log.Errorw("queue_restore_failed", "error", err)
	}

	ln, err := net.Listen("tcp4", cfg.Server.Address())
	if err != nil {
		queue.Close()
		closeFiles.Close()
		closeRepo()
		return fmt.Errorf("server failed to start: %w", err)
	}
	go func() {
		if err := app.Listener(ln); err != nil {
			log.Errorw("server_stopped", "error", err)
		}
	}()
	log.Infof("server started on %s", cfg.Server.Address())

	code := gracefulShutdown(app, stop, log, queue.Close, closeFiles, closer(closeRepo))
	if code != services.ExitCodeStop {
		log.Sync()
		os.Exit(code)
	}
	return nil
}

type closer func() error

func (f closer) Close() error { return f() }

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		if code == fiber.StatusRequestTimeout || code == fiber.StatusNotFound {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", httpmw.RequestIDFrom(c.UserContext()),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", httpmw.RequestIDFrom(c.UserContext()),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// gracefulShutdown blocks until a signal or a system control action, then
// stops the server and releases every resource. It returns the exit code.
func gracefulShutdown(app *fiber.App, stop <-chan int, log *logger.Logger, stopQueue func(), closers ...io.Closer) int {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	code := services.ExitCodeStop
	select {
	case sig := <-quit:
		log.Infow("shutdown_signal", "signal", sig.String())
	case code = <-stop:
		log.Infow("shutdown_requested", "exit_code", code)
	}
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	stopQueue()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Errorf("failed to close resource: %v", err)
		}
	}

	log.Info("server exited gracefully")
	return code
}
