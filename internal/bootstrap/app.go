// Package bootstrap wires configuration, telemetry, storage, broker clients,
// and the replication pipeline into a runnable application.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"copytrader/internal/broker"
	"copytrader/internal/config"
	"copytrader/internal/core"
	"copytrader/internal/dispatch"
	"copytrader/internal/infrastructure/health"
	"copytrader/internal/infrastructure/metrics"
	"copytrader/internal/instruments"
	"copytrader/internal/replicator"
	"copytrader/internal/sizer"
	"copytrader/internal/store"
	"copytrader/internal/stream"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/logging"
	"copytrader/pkg/telemetry"
)

const serviceName = "copytrader"

// App holds the wired application components.
type App struct {
	Cfg    *config.Config
	Logger *logging.ZapLogger

	Telemetry   *telemetry.Telemetry
	Store       *store.Store
	Leader      *broker.Client
	Follower    *broker.Client
	Instruments *instruments.Cache
	Sizer       *sizer.Sizer
	Dispatcher  *dispatch.Dispatcher
	Replicator  *replicator.Replicator
	Coordinator *stream.Coordinator
	Health      *health.Monitor
	Metrics     *metrics.Server
}

// NewApp builds the application from the configuration at configPath (empty
// for environment-only configuration).
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfiguration, "load configuration", err)
	}

	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger setup: %w", err)
	}
	logging.SetGlobalLogger(logger)

	st, err := store.Open(cfg.System.StorePath, logger)
	if err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout()
	leader := broker.NewClient(core.RoleLeader, cfg.Leader, cfg.System.BaseURL, timeout, logger)
	follower := broker.NewClient(core.RoleFollower, cfg.Follower, cfg.System.BaseURL, timeout, logger)

	cache := instruments.New(follower, st, logger)
	sz := sizer.New(cfg.Sizing, leader, follower, st, cache, logger)
	disp := dispatch.New(follower, st, cfg.Dispatch, logger)
	repl := replicator.New(st, sz, disp, follower, cache, cfg.System.EnableCopyTrading, cfg.System.CopySegments, logger)
	coord := stream.New(cfg.System.StreamURL, cfg.Leader, cfg.Stream, st, repl, leader, logger)

	hm := health.New(logger)
	hm.Register("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return st.Ping(ctx)
	})
	hm.Register("stream", func() error {
		if s := coord.State(); s != core.StreamLive {
			return fmt.Errorf("stream is %s", s)
		}
		return nil
	})
	hm.Register("dispatcher", func() error {
		if disp.CircuitOpen() {
			return fmt.Errorf("circuit breaker open")
		}
		return nil
	})

	app := &App{
		Cfg:         cfg,
		Logger:      logger,
		Telemetry:   tel,
		Store:       st,
		Leader:      leader,
		Follower:    follower,
		Instruments: cache,
		Sizer:       sz,
		Dispatcher:  disp,
		Replicator:  repl,
		Coordinator: coord,
		Health:      hm,
		Metrics:     metrics.NewServer(cfg.System.MetricsPort, hm, logger),
	}
	return app, nil
}

// preflight verifies both accounts' credentials before any replication
// starts. An account that cannot authenticate must fail the process, not the
// first order.
func (a *App) preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := a.Leader.CheckHealth(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindOf(err), "leader account check", err)
	}
	if err := a.Follower.CheckHealth(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindOf(err), "follower account check", err)
	}
	return nil
}

// Run starts the pipeline and blocks until shutdown or a fatal error.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("starting",
		"environment", a.Cfg.System.Environment,
		"copy_trading_enabled", a.Cfg.System.EnableCopyTrading,
		"sizing_strategy", a.Cfg.Sizing.Strategy)

	if err := a.preflight(ctx); err != nil {
		return err
	}

	a.Metrics.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Coordinator.Run(ctx)
	})

	err := g.Wait()
	a.shutdown()

	if err != nil && err != context.Canceled {
		a.Logger.Error("stopped with error", "error", err)
		return err
	}
	a.Logger.Info("shut down gracefully")
	return nil
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Replicator.Stop()
	a.Instruments.Stop()
	if err := a.Metrics.Stop(ctx); err != nil {
		a.Logger.Warn("metrics server stop failed", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("store close failed", "error", err)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", "error", err)
	}
	_ = a.Logger.Sync()
}
