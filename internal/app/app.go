package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/auto-dns/cf-app-keepalive/internal/config"
	"github.com/auto-dns/cf-app-keepalive/internal/controlplane"
	"github.com/auto-dns/cf-app-keepalive/internal/core"
	"github.com/auto-dns/cf-app-keepalive/internal/domain"
	"github.com/auto-dns/cf-app-keepalive/internal/lockstore"
	"github.com/auto-dns/cf-app-keepalive/internal/metrics"
	"github.com/auto-dns/cf-app-keepalive/internal/server"
	"github.com/auto-dns/cf-app-keepalive/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      lockstore.Store
	fleet      core.Fleet
	reconciler *core.Reconciler
	scheduler  *core.Scheduler
	supervisor *core.Supervisor
	engine     *core.Engine
	server     *http.Server
}

// New creates a new App by wiring up all dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Warn().Err(err).Msg("Metrics registration failed")
	}

	cp := controlplane.NewClient(controlplane.Config{Timeout: cfg.Reconcile.HTTPTimeout}, logger)
	guard := core.NewGuard(store, cfg.Lock)
	reconciler := core.NewReconciler(logger, cp, guard, cfg.Reconcile)
	fleet := core.Fleet(cfg.Fleet)
	scheduler := core.NewScheduler(logger, reconciler, fleet,
		core.NewWindow(cfg.Schedule.Hours, cfg.Schedule.MinuteEvery), cfg.Schedule.MaxParallel)
	supervisor := core.NewSupervisor(context.Background(), logger, reconciler, 16)
	engine := core.NewEngine(logger, trigger.NewCronGenerator(cfg.Schedule.Cron, logger), scheduler)

	a := &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		fleet:      fleet,
		reconciler: reconciler,
		scheduler:  scheduler,
		supervisor: supervisor,
		engine:     engine,
	}
	if cfg.Server.Enabled {
		a.server = server.NewServer(cfg.Server.Addr, server.NewRouter(logger, fleet, reconciler, supervisor))
	}
	return a, nil
}

func newStore(cfg *config.Config, logger zerolog.Logger) (lockstore.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendEtcd:
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Store.Etcd.Endpoints,
			DialTimeout: cfg.Store.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return lockstore.NewEtcdStore(etcdClient, &cfg.Store.Etcd, logger), nil
	case config.StoreBackendBolt:
		store, err := lockstore.NewBoltStore(cfg.Store.Bolt.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return store, nil
	case config.StoreBackendMemory:
		logger.Warn().Msg("Using in-memory lock store, locks do not survive restarts")
		return lockstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func (a *App) Fleet() core.Fleet { return a.fleet }

func (a *App) Reconciler() *core.Reconciler { return a.reconciler }

func (a *App) Scheduler() *core.Scheduler { return a.scheduler }

// Run starts the trigger, the ops API and the error drain, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().Msgf("Application starting with %d targets", len(a.fleet))

	var wg conc.WaitGroup
	wg.Go(a.drainTaskErrors)

	serverErr := make(chan error, 1)
	if a.server != nil {
		wg.Go(func() {
			a.logger.Info().Str("addr", a.server.Addr).Msg("Ops API listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		})
	}

	var runErr error
	if a.cfg.Schedule.Enabled {
		runErr = a.runEngine(ctx, serverErr)
	} else {
		a.logger.Info().Msg("Scheduler disabled, serving manual triggers only")
		select {
		case <-ctx.Done():
		case runErr = <-serverErr:
		}
	}

	a.shutdown()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (a *App) runEngine(ctx context.Context, serverErr <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() { engineErr <- a.engine.Run(ctx) }()

	select {
	case err := <-engineErr:
		return err
	case err := <-serverErr:
		cancel()
		<-engineErr
		return fmt.Errorf("ops API failed: %w", err)
	}
}

func (a *App) shutdown() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Error shutting down ops API")
		}
	}
	a.supervisor.Shutdown()
}

func (a *App) drainTaskErrors() {
	for te := range a.supervisor.Errors() {
		if errors.Is(te.Err, domain.ErrRunInProgress) {
			a.logger.Info().Str("target", te.TargetID).Msg("Manual start ignored, a run is already in progress")
			continue
		}
		metrics.IncTaskError(te.Reason)
		a.logger.Error().Err(te.Err).Str("target", te.TargetID).Str("reason", te.Reason).Msg("Background reconciliation failed")
	}
}

func (a *App) Close() error {
	a.supervisor.Shutdown()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("close lock store: %w", err)
		}
	}
	return nil
}
