// Command orbit-store runs the reference contribution store: it persists
// records, rejects slot races and pushes accepted records to subscribers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/orbit/internal/adapters/http/api"
	app "github.com/okian/orbit/internal/app"
	"github.com/okian/orbit/internal/config"
	"github.com/okian/orbit/pkg/logger"
)

// HTTP server timeout constants. There is no write timeout: /live holds
// connections open and the hub bounds each write itself.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Named("orbit-store")
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "record store failed", logger.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	table, err := cfg.Table()
	if err != nil {
		return err
	}

	svc := app.NewStoreService(table,
		app.WithStoreLogger(log),
		app.WithDBPath(cfg.DBPath),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithBroadcastQueueSize(cfg.QueueSize),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "store shutdown failed", logger.Error(err))
		}
	}()

	handler := api.NewStoreServer(svc, svc.Deduper(),
		api.WithLimiter(api.NewSubmitterLimiter(cfg.SubmitRPS, cfg.SubmitBurst)),
		api.WithLive(svc.LiveHandler()),
		api.WithStats(svc),
	).Routes()

	srv := &http.Server{
		Addr:              cfg.StoreAddr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}
