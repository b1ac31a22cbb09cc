package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/MimeLyc/vision2voice/internal/config"
	"github.com/MimeLyc/vision2voice/pkg/log"
	"github.com/joho/godotenv"
)

// Version is set via -ldflags at build time.
var Version = "dev"

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: failed to load .env: %v\n", err)
		os.Exit(1)
	}

	app := newCLIApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runWithComponents schedules the sweep, starts cron and serves HTTP until
// ctx is cancelled or the server fails.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sweeper scheduler,
	cron cronEngine,
	httpSrv httpServer,
) error {
	if err := sweeper.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule history sweep: %w", err)
	}
	cron.Start()
	defer func() {
		<-cron.Stop().Done()
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
