package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/licensed/internal/config"
	"github.com/MrSnakeDoc/licensed/internal/httpserver"
	"github.com/MrSnakeDoc/licensed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/licensed/internal/licensing"
	"github.com/MrSnakeDoc/licensed/internal/logger"
	"github.com/MrSnakeDoc/licensed/internal/metrics"
	"github.com/MrSnakeDoc/licensed/internal/store"
	"github.com/MrSnakeDoc/licensed/internal/version"
)

type App struct {
	cfg    *config.Config
	logger logger.Logger
	store  store.Store
	server *httpserver.Server
}

// New loads configuration and connects the license store. It fails fast
// when the store cannot be reached within the connect budget.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	loggerClient.Debugf("cfg: %+v", cfg.Redacted())

	m := metrics.New()

	st, err := store.New(ctx, cfg, m, loggerClient)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	svc := licensing.New(st, licensing.Options{
		StoreTimeout: cfg.StoreTimeout,
		AutoRegister: cfg.AutoRegister,
		Metrics:      m,
	}, loggerClient)

	if cfg.AutoRegister {
		loggerClient.Info("auto-registration enabled: /check_machine creates pending records for unknown machines")
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		Service:        svc,
		Store:          st,
		StoreBackend:   cfg.Store,
		ReadyTimeout:   cfg.StoreTimeout,
		MetricsHandler: m.Handler(),
		AllowedCIDRS:   cfg.AllowedCIDRs,
		TrustProxy:     cfg.TrustProxy,
		RateBurst:      cfg.RateBurst,
		RatePerMin:     cfg.RatePerMin,
	}

	return &App{
		cfg:    cfg,
		logger: loggerClient,
		store:  st,
		server: httpserver.New(cfg, loggerClient, d),
	}, nil
}

// Run serves until SIGINT/SIGTERM or a server error, then shuts down.
func (a *App) Run() error {
	a.logger.Infof("Starting licensed %s on %s (store=%s)", version.Version, a.cfg.ListenAddr, a.cfg.Store)
	a.logger.Infof("licensed %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	err := g.Wait()

	if cerr := a.store.Close(); cerr != nil {
		a.logger.Warn("failed to close license store", logger.Error(cerr))
	} else {
		a.logger.Info("license store closed cleanly")
	}

	if err != nil {
		return err
	}
	a.logger.Info("licensed stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
