// Command orbit runs one orbit session: it keeps the ring working set in
// sync with the store and serves it to the rendering client.
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
	"github.com/okian/orbit/internal/adapters/storeclient"
	app "github.com/okian/orbit/internal/app"
	"github.com/okian/orbit/internal/config"
	"github.com/okian/orbit/internal/domain/geo"
	"github.com/okian/orbit/internal/domain/model"
	"github.com/okian/orbit/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err == nil {
		err = cfg.ValidateClient()
	}
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Named("orbit")
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "orbit session failed", logger.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	table, err := cfg.Table()
	if err != nil {
		return err
	}
	fences, err := cfg.Fences()
	if err != nil {
		return err
	}

	store := storeclient.New(cfg.StoreURL,
		storeclient.WithHTTPClient(&http.Client{Timeout: cfg.SubmitTimeout + cfg.FetchTimeout}))

	svc := app.New(table, store,
		app.WithLogger(log),
		app.WithQueueSize(cfg.QueueSize),
		app.WithPollInterval(cfg.PollInterval),
		app.WithFetchTimeout(cfg.FetchTimeout),
		app.WithSubmitTimeout(cfg.SubmitTimeout),
		app.WithPushURL(cfg.PushURL),
		app.WithStatePath(cfg.StatePath),
		app.WithRandomSeed(cfg.RandomSeed),
		app.WithRingScale(cfg.RingScale),
		app.WithFences(fences),
		app.WithLocator(newLocator(cfg)),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "session shutdown failed", logger.Error(err))
		}
	}()

	srv := newServer(cfg.Addr, api.NewClientServer(svc, svc).Routes())
	return serve(ctx, srv, log)
}

// newLocator pins the kiosk position when one is configured. Without it
// every contribution must carry its own coordinates.
func newLocator(cfg *config.Config) geo.Locator {
	if !cfg.HasKioskLocation() {
		return geo.DeniedLocator{}
	}
	return geo.NewStaticLocator(model.Coordinates{
		Latitude:  cfg.KioskLatitude,
		Longitude: cfg.KioskLongitude,
	})
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, log logger.Logger) error {
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
