package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/christian-schlichtherle/truelicense-sub000/internal/config"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/infrastructure"
	"github.com/christian-schlichtherle/truelicense-sub000/internal/license"
	customMiddleware "github.com/christian-schlichtherle/truelicense-sub000/internal/middleware"
	handlers "github.com/christian-schlichtherle/truelicense-sub000/internal/transport/http"
)

// AppName is logged at startup
const AppName = "truelicense"

// Application represents the license service
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Managers      *Managers
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication loads the configuration at path and assembles the service
func NewApplication(path string) (*Application, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewApplicationWithConfig(cfg, logger)
}

// NewApplicationWithConfig assembles the service from an already loaded
// configuration
func NewApplicationWithConfig(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", infrastructure.Version),
		slog.String("subject", cfg.License.Subject))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}
	if err := a.initializeManagers(); err != nil {
		otelProviders.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize license managers: %w", err)
	}
	a.setupRouter()
	a.createServer()
	return a, nil
}

func (a *Application) initializeManagers() error {
	metrics, err := NewMetrics(a.OTelProviders)
	if err != nil {
		return err
	}
	a.Managers, err = NewManagers(a.Config, a.Logger, metrics)
	return err
}

// NewMetrics creates the license instruments on the configured meter, or on
// the global meter provider when metrics are not exported
func NewMetrics(providers *infrastructure.OTelProviders) (*license.Metrics, error) {
	if providers != nil && providers.Meter != nil {
		return license.NewMetrics(providers.Meter)
	}
	return license.DefaultMetrics()
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))

		licenseHandler := handlers.NewLicenseHandler(a.Managers.Consumer, a.Logger, a.Config.Server.MaxKeyBytes)
		r.Mount("/license", licenseHandler.Routes())
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}
	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr,
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Start serves HTTP in the background. A server failure cancels ctx.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("addr", a.Config.Server.Addr),
		slog.String("store", a.Config.Store.Kind),
		slog.Int("trial_days", a.Config.Trial.Days))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and releases the stores
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if err := a.Managers.Close(); err != nil {
		a.Logger.ErrorContext(ctx, "Error closing license stores", slog.String("error", err.Error()))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}
	return a.Stop(context.Background())
}
