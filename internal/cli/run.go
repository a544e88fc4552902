package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/shopsync/internal/bridge"
	"github.com/roach88/shopsync/internal/cloud"
	"github.com/roach88/shopsync/internal/config"
	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/logger"
	"github.com/roach88/shopsync/internal/metrics"
	"github.com/roach88/shopsync/internal/status"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/terminal"
)

// agent is the wired set of long-running components.
type agent struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	collector *metrics.Collector
	engine    *engine.Engine
	simulator *terminal.Simulator
}

func runAgent(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := config.LoadFrom(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if opts.Simulate {
		cfg.Simulator.Enabled = true
	}

	log, closer, err := logger.New(cfg.Logging, cfg.Shop.ID, cmd.OutOrStdout())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up logging", err)
	}
	defer closer.Close()
	slog.SetDefault(log)

	a, err := newAgent(cfg, log)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start agent", err)
	}
	defer func() {
		if closeErr := a.store.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
		if shutdownErr := a.collector.Shutdown(context.Background()); shutdownErr != nil {
			log.Error("error shutting down metrics", "error", shutdownErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		return WrapExitError(ExitFailure, "agent stopped", err)
	}

	log.Info("agent stopped gracefully")
	return nil
}

// newAgent opens the store and export directory and wires the engine.
func newAgent(cfg *config.Config, log *slog.Logger) (*agent, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	dir, err := bridge.NewOSDir(cfg.Bridge.ExportDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	// The status router's otelhttp middleware reads the global provider.
	otel.SetMeterProvider(collector.MeterProvider())

	m, err := metrics.New(collector.MeterProvider())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	client := cloud.NewClient(cloud.Options{
		BaseURL:       cfg.Cloud.BaseURL,
		ShopID:        cfg.Shop.ID,
		APIKey:        cfg.Shop.APIKey,
		Timeout:       cfg.Cloud.Timeout,
		MaxAttempts:   cfg.Cloud.MaxAttempts,
		BackoffBase:   cfg.Cloud.BackoffBase,
		MeterProvider: collector.MeterProvider(),
		OnRetry: func(attempt int, err error) {
			log.Warn("cloud request failed, retrying", "attempt", attempt, "error", err)
		},
	})

	a := &agent{
		cfg:       cfg,
		logger:    log,
		store:     st,
		collector: collector,
		engine: engine.New(st, client, bridge.New(dir),
			engine.WithLogger(log),
			engine.WithMetrics(m),
			engine.WithRetryAlertThreshold(cfg.Agent.RetryAlertThreshold),
		),
	}
	if cfg.Simulator.Enabled {
		a.simulator = terminal.New(dir,
			terminal.WithBillProbability(cfg.Simulator.BillProbability),
			terminal.WithLogger(log),
		)
	}
	return a, nil
}

// run starts the reconciliation loop, and the status server and terminal
// simulator when configured, and waits for all of them. The first to fail
// stops the others. Cancelling ctx is a clean shutdown.
func (a *agent) run(ctx context.Context) error {
	a.logger.Info("agent starting",
		"cloud", a.cfg.Cloud.BaseURL,
		"export_dir", a.cfg.Bridge.ExportDir,
		"store", a.cfg.Store.Path,
		"poll_interval", a.cfg.Agent.PollInterval,
		"status_addr", a.cfg.Status.Addr,
		"simulator", a.simulator != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Run(gctx, engine.NewIntervalScheduler(a.cfg.Agent.PollInterval))
	})

	if a.cfg.Status.Addr != "" {
		router := status.NewRouter(&status.Handlers{
			ShopID:  a.cfg.Shop.ID,
			Tasks:   a.store,
			Reports: a.engine,
			Metrics: a.collector,
		}, a.cfg.Logging.Service)
		g.Go(func() error {
			return status.Serve(gctx, a.cfg.Status.Addr, router, a.logger)
		})
	}

	if a.simulator != nil {
		a.logger.Warn("terminal simulator enabled; confirmations are fake",
			"interval", a.cfg.Simulator.Interval,
			"bill_probability", a.cfg.Simulator.BillProbability,
		)
		g.Go(func() error {
			return a.simulator.Run(gctx, a.cfg.Simulator.Interval)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		return nil
	}
	return err
}
