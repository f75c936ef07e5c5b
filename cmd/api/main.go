package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arena-serverless/app"
	"arena-serverless/internal/maintenance"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	rt, err := app.Build(app.Options{LoadDotEnv: true, RunMigrations: true})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer rt.Close()

	logger := rt.Logger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := maintenance.NewScheduler(rt.Cleaner, logger, 5*time.Minute)
	if err := scheduler.Start(ctx, rt.Config.CleanupSchedule); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", rt.Config.Port),
		Handler:           rt.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server_shutdown_failed", map[string]any{"error": err.Error()})
		}
	}()

	logger.Info("server_start", map[string]any{"addr": srv.Addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("server_stopped", nil)
	return nil
}
