package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"hydrocli/internal/client"
	"hydrocli/internal/config"
	"hydrocli/internal/infrastructure"
	"hydrocli/internal/license"
	"hydrocli/internal/queue"
	"hydrocli/internal/security"
	"hydrocli/internal/storage"
	transport "hydrocli/internal/transport/http"
)

const (
	// Version is the licensing core version reported on /api/version
	Version = "1.4.0"
	AppName = "HydroSuite Licensing Core"
)

// Application wires the licensing core together: encrypted local state,
// the validation state machine, the offline queue, and the loopback HTTP
// surface consumed by the desktop shell.
type Application struct {
	Config      *config.Config
	Paths       *config.Paths
	Logger      *slog.Logger
	Telemetry   *infrastructure.Telemetry
	Fingerprint *security.FingerprintManager
	Store       *storage.Store
	Queue       *queue.Store
	Processor   *queue.Processor
	Client      *client.Client
	Manager     *license.Manager
	Router      chi.Router
	Server      *http.Server
}

// NewApplication creates the application container with all dependencies
// resolved. Nothing is running yet; call Start or Run.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	paths := config.BuildPaths(cfg)
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	if !config.FileExists(paths.LicenseFile) {
		logger.Warn("no license file found, activation will be required",
			slog.String("path", paths.LicenseFile))
	}

	telemetry, err := infrastructure.InitializeTelemetry(Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	fingerprint := security.NewFingerprintManager()
	storeOpts := storage.DefaultOptions()
	if cfg.License.ClockRollbackGrace > 0 {
		storeOpts.ClockRollbackGrace = cfg.License.ClockRollbackGrace
	}
	if cfg.License.ServerDriftThreshold > 0 {
		storeOpts.ServerDriftThreshold = cfg.License.ServerDriftThreshold
	}
	store := storage.New(paths, fingerprint, storeOpts, logger)

	queueStore, err := queue.NewStore(cfg.Queue.DatabaseFile, cfg.Queue.DefaultMaxAttempts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline queue: %w", err)
	}
	queueStore.SetRetryBackoff(cfg.Queue.RetryBackoff)
	processor := queue.NewProcessor(queueStore, cfg.Queue.DrainInterval, logger)

	serverClient := client.New(cfg.License.ServerURL, cfg.License.NetworkTimeout, logger)

	metrics, err := license.InitializeMetrics(telemetry.Meter)
	if err != nil {
		logger.Warn("license metrics unavailable", slog.String("error", err.Error()))
	}

	manager, err := license.NewManager(license.Deps{
		Store:       store,
		Client:      serverClient,
		Queue:       queueStore,
		Processor:   processor,
		Fingerprint: fingerprint,
		Config:      cfg.License,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create license manager: %w", err)
	}

	router := transport.NewRouter(transport.RouterConfig{
		License: manager,
		Metrics: telemetry.PrometheusHTTP,
		Version: Version,
		Logger:  logger,
	})

	app := &Application{
		Config:      cfg,
		Paths:       paths,
		Logger:      logger,
		Telemetry:   telemetry,
		Fingerprint: fingerprint,
		Store:       store,
		Queue:       queueStore,
		Processor:   processor,
		Client:      serverClient,
		Manager:     manager,
		Router:      router,
	}
	app.createServer()

	return app, nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start performs the initial validation pass, starts the queue processor
// and heartbeat, and begins serving the loopback API.
func (a *Application) Start(ctx context.Context, errCh chan<- error) error {
	if err := a.Manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize license manager: %w", err)
	}

	a.Processor.Start(ctx)
	a.Manager.Start(ctx)

	a.Logger.InfoContext(ctx, "serving loopback API",
		slog.String("addr", a.Server.Addr),
		slog.String("status", a.Manager.CurrentStatus().String()))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	return nil
}

// Stop shuts the application down in reverse dependency order.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}

	if err := a.Manager.Close(); err != nil {
		a.Logger.Warn("license manager close failed", slog.String("error", err.Error()))
	}

	if err := a.Processor.Stop(10 * time.Second); err != nil {
		a.Logger.Warn("queue processor stop timed out", slog.String("error", err.Error()))
	}

	if err := a.Queue.Close(); err != nil {
		a.Logger.Warn("queue database close failed", slog.String("error", err.Error()))
	}

	if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	a.Logger.Info("shutdown complete")
	return nil
}

// Run starts the application and blocks until an interrupt arrives or the
// server fails.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	if err := a.Start(ctx, errCh); err != nil {
		return err
	}

	select {
	case sig := <-sigCh:
		a.Logger.Info("received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		a.Logger.Error("server error", slog.String("error", err.Error()))
		stopErr := a.Stop(ctx)
		if stopErr != nil {
			a.Logger.Warn("shutdown after server error also failed",
				slog.String("error", stopErr.Error()))
		}
		return err
	}

	return a.Stop(ctx)
}
