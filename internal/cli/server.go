package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"prediction-game-service/internal/app"
	"prediction-game-service/internal/config"
	"prediction-game-service/internal/infra/memory"
	"prediction-game-service/internal/infra/queue"
	transport "prediction-game-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the grading server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	var recalcQueue app.RecalcQueue
	var stopQueue func(context.Context) error
	if cfg.Queue.Enabled && rt.pool != nil {
		riverQueue, err := queue.NewService(rt.pool, rt.service, logger, cfg.Queue.MaxWorkers)
		if err != nil {
			return err
		}
		if err := riverQueue.Start(ctx); err != nil {
			return err
		}
		recalcQueue, stopQueue = riverQueue, riverQueue.Stop
	} else {
		memQueue := memory.NewRecalcQueue(rt.service, logger, cfg.Queue.Attempts)
		recalcQueue = memQueue
		stopQueue = func(context.Context) error {
			memQueue.Close()
			return nil
		}
	}

	handler := transport.NewHandler(rt.service, recalcQueue, rt.registry, logger)
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("starting grading service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return stopQueue(shutdownCtx)
}
