package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/tokenx-labs/fdc-validator/metrics"
	apisrv "github.com/tokenx-labs/fdc-validator/server/api"
	"github.com/tokenx-labs/fdc-validator/validator-app/config"
	"github.com/tokenx-labs/fdc-validator/x/eventstore"
	"github.com/tokenx-labs/fdc-validator/x/fdc/chain"
	"github.com/tokenx-labs/fdc-validator/x/fdc/dalayer"
	"github.com/tokenx-labs/fdc-validator/x/fdc/finality"
	"github.com/tokenx-labs/fdc-validator/x/fdc/requester"
	"github.com/tokenx-labs/fdc-validator/x/fdc/round"
	"github.com/tokenx-labs/fdc-validator/x/fdc/submitter"
	"github.com/tokenx-labs/fdc-validator/x/fdc/verifier"
	"github.com/tokenx-labs/fdc-validator/x/ledger"
	"github.com/tokenx-labs/fdc-validator/x/lock"
	periodrunner "github.com/tokenx-labs/fdc-validator/x/period-runner"
	"github.com/tokenx-labs/fdc-validator/x/pipeline"
	pipelinehttp "github.com/tokenx-labs/fdc-validator/x/pipeline/http"
)

const (
	shutdownTimeout = 30 * time.Second
	reportInterval  = 30 * time.Second
	readyTimeout    = 5 * time.Second
)

// App represents the validator application
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	startedAt time.Time

	client       *ethclient.Client
	sender       *chain.Sender
	orchestrator *pipeline.Orchestrator
	runner       *periodrunner.LocalPeriodRunner

	// API server (HTTP)
	apiServer *apisrv.Server

	// Shutdown management
	shutdownFns []func() error

	cancel context.CancelFunc
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		startedAt:   time.Now(),
		shutdownFns: make([]func() error, 0),
	}

	if err := app.initialize(ctx, log); err != nil {
		_ = app.closeAll()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context, log zerolog.Logger) error {
	if err := a.initializeChain(ctx, log); err != nil {
		return err
	}

	deps, err := a.initializeStages(log)
	if err != nil {
		return err
	}

	if err := a.initializeStorage(ctx, &deps); err != nil {
		return err
	}

	if err := a.initializePipeline(deps, log); err != nil {
		return err
	}

	if err := a.initializeScheduler(log); err != nil {
		return err
	}

	return a.initializeAPIServer(log)
}

// initializeChain dials the RPC endpoint and loads the validator wallet.
func (a *App) initializeChain(ctx context.Context, log zerolog.Logger) error {
	if strings.TrimSpace(a.cfg.Chain.PrivateKeyHex) == "" {
		return errors.New("chain.private_key_hex is required (set PRIVATE_KEY)")
	}

	client, err := chain.Dial(ctx, &a.cfg.Chain, log)
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	a.client = client
	a.shutdownFns = append(a.shutdownFns, func() error {
		client.Close()
		return nil
	})

	signer, err := chain.SignerFromHex(a.cfg.Chain.ChainID, a.cfg.Chain.PrivateKeyHex)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	sender, err := chain.NewSender(ctx, a.cfg.Chain, client, signer, log)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}
	a.sender = sender

	a.log.Info().
		Str("address", sender.From().Hex()).
		Uint64("chain_id", a.cfg.Chain.ChainID).
		Msg("Validator wallet loaded")
	return nil
}

// initializeStages builds one component per pipeline stage.
func (a *App) initializeStages(log zerolog.Logger) (pipeline.Deps, error) {
	bindings, err := a.cfg.Contracts.Bind()
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("failed to bind contracts: %w", err)
	}

	verifierClient, err := verifier.NewClient(a.cfg.Verifier, nil, log)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("failed to create verifier client: %w", err)
	}

	// The resolver must read the chain the sender broadcasts to.
	resolver := round.NewResolver(a.client, bindings.Manager, log)
	req := requester.New(verifierClient, a.sender, bindings.Hub, bindings.Fees, resolver, log)

	daClient, err := dalayer.NewClient(a.cfg.DALayer, nil, log)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("failed to create DA layer client: %w", err)
	}

	events, err := eventstore.NewClient(a.cfg.EventStore, nil, log)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("failed to create event store client: %w", err)
	}

	return pipeline.Deps{
		Events:    events,
		Requester: req,
		Finality:  finality.New(bindings.Relay, a.client, a.cfg.Finality, log),
		Proofs:    dalayer.NewRetriever(daClient, a.cfg.DALayer, log),
		Validator: submitter.New(a.sender, a.cfg.Submitter, log),
	}, nil
}

// initializeStorage opens the ledger and the per-request lock backend.
func (a *App) initializeStorage(ctx context.Context, deps *pipeline.Deps) error {
	led, err := ledger.Open(ctx, a.cfg.Ledger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	deps.Ledger = led
	a.shutdownFns = append(a.shutdownFns, led.Close)

	switch a.cfg.Lock.Backend {
	case "redis":
		locker, err := lock.NewRedis(ctx, a.cfg.Lock.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect lock backend: %w", err)
		}
		deps.Locker = locker
		a.shutdownFns = append(a.shutdownFns, locker.Close)
	default:
		deps.Locker = lock.NewLocal()
	}

	a.log.Info().
		Str("ledger_driver", a.cfg.Ledger.Driver).
		Str("lock_backend", a.cfg.Lock.Backend).
		Msg("Storage initialized")
	return nil
}

func (a *App) initializePipeline(deps pipeline.Deps, log zerolog.Logger) error {
	pcfg := a.cfg.Pipeline
	pcfg.Validator = a.sender.From()
	if addr := strings.TrimSpace(a.cfg.Validator.Address); addr != "" {
		pcfg.Validator = common.HexToAddress(addr)
	}

	var m *pipeline.Metrics
	if a.cfg.Metrics.Enabled {
		m = pipeline.NewMetrics(metrics.NewComponentRegistry(metrics.Namespace, "pipeline"))
	}

	orch, err := pipeline.New(pcfg, deps, m, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.orchestrator = orch
	return nil
}

// initializeScheduler drives the orchestrator on the configured cadence.
func (a *App) initializeScheduler(log zerolog.Logger) error {
	if !a.cfg.Scheduler.Enabled {
		return nil
	}

	rcfg := periodrunner.DefaultPeriodRunnerConfig(log)
	rcfg.Interval = a.cfg.Scheduler.Interval
	rcfg.Handler = a.onPeriod
	a.runner = periodrunner.NewLocalPeriodRunner(rcfg)
	return nil
}

func (a *App) onPeriod(ctx context.Context, info periodrunner.PeriodInfo) error {
	if info.Missed > 0 {
		a.log.Warn().
			Uint64("period_id", info.PeriodID).
			Uint64("missed", info.Missed).
			Msg("Previous tick overran its period")
	}

	report, err := a.orchestrator.Tick(ctx)
	if errors.Is(err, pipeline.ErrTickInProgress) {
		a.log.Debug().Uint64("period_id", info.PeriodID).Msg("Manual tick in progress, skipping period")
		return nil
	}
	if err != nil {
		return err
	}
	if report.Aborted {
		a.log.Warn().Str("tick_id", report.ID).Str("reason", report.AbortReason).Msg("Tick aborted")
	}
	return nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer(log zerolog.Logger) error {
	if !a.cfg.API.Enabled {
		return nil
	}

	s := apisrv.NewServer(a.cfg.API, log)
	s.SetReady(a.ready)

	if a.cfg.Metrics.Enabled {
		s.InstrumentRoutes(metrics.NewComponentRegistry(metrics.Namespace, "http"))
		s.RegisterMetrics(metrics.GetRegistry())
	}

	pipelinehttp.NewHandler(a.orchestrator, log).RegisterMux(s.Router)

	a.apiServer = s
	return nil
}

// ready reports whether the RPC endpoint answers.
func (a *App) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if _, err := a.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("rpc unavailable: %w", err)
	}
	return nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.runner != nil {
		if err := a.runner.Start(runCtx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		a.log.Info().Dur("interval", a.cfg.Scheduler.Interval).Msg("Scheduler started")
	}

	go a.metricsReporter(runCtx)

	// Start API server
	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.Start(runCtx); err != nil {
				a.log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	return a.runWithGracefulShutdown(runCtx)
}

// runWithGracefulShutdown handles shutdown signals.
func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a.log.Info().Msg("FDC validator started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

// shutdown waits for the in-flight tick, then releases storage and the RPC
// connection.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.runner != nil {
		if err := a.runner.Stop(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("Scheduler shutdown error")
			errs = append(errs, err)
		}
	}

	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}

	a.log.Info().Msg("Graceful shutdown complete")
	return errors.Join(errs...)
}

// closeAll runs the shutdown functions in reverse registration order.
func (a *App) closeAll() error {
	var errs []error
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
			errs = append(errs, err)
		}
	}
	a.shutdownFns = nil
	return errors.Join(errs...)
}

// metricsReporter periodically reports application statistics.
func (a *App) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.TrackUptime(a.startedAt)

			stats, err := a.orchestrator.Stats(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("Failed to collect pipeline statistics")
				continue
			}

			ev := a.log.Info().
				Uint64("ticks", stats.Ticks).
				Int64("in_flight", stats.InFlight).
				Float64("uptime_seconds", time.Since(a.startedAt).Seconds())
			for state, n := range stats.Ledger {
				ev = ev.Int("ledger_"+string(state), n)
			}
			if stats.LastTick != nil {
				ev = ev.Str("last_tick_id", stats.LastTick.ID).
					Int("last_tick_confirmed", stats.LastTick.Confirmed).
					Int("last_tick_failed", stats.LastTick.Failed)
			}
			if bal, err := a.sender.Balance(ctx); err == nil {
				ev = ev.Str("balance_wei", bal.String())
			}
			ev.Msg("Validator statistics")
		}
	}
}
