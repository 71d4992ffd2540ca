package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"funding-arb-bot/internal/alerts"
	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/exec"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/state"
	"funding-arb-bot/internal/state/sqlite"
	"funding-arb-bot/internal/timescale"
	"funding-arb-bot/internal/venue"
	"funding-arb-bot/internal/venue/bybit"
	"funding-arb-bot/internal/venue/drift"

	"go.uber.org/zap"
)

const recentOrdersOnStart = 5

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	timescale *timescale.Writer
	ticker    *bybit.TickerStream
	venueA    venue.Client
	venueB    venue.Client
	executor  *exec.Executor
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	notifier  *alerts.Notifier
	cycle     *Cycle
	runner    *Runner
	summary   *SummaryJob
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	ts, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	telegram := alerts.NewTelegram(cfg.Telegram, log)
	var sender alerts.Sender
	if telegram.Enabled() {
		sender = telegram
	}
	notifier := alerts.NewNotifier(sender, cfg.Telegram, log)

	ticker := bybit.NewTickerStream(cfg.Bybit, log)
	var venueA venue.Client = drift.New(cfg.Drift, cfg.Venue.CallTimeout, log)
	var venueB venue.Client = bybit.New(cfg.Bybit, cfg.Venue.CallTimeout, ticker, log)
	if cfg.Strategy.DryRun {
		venueA = venue.NewDryRun(venueA, log)
		venueB = venue.NewDryRun(venueB, log)
	}
	venueA = venue.NewGuarded(venueA, cfg.Venue, log)
	venueB = venue.NewGuarded(venueB, cfg.Venue, log)

	executor := exec.New(store, m, notifier, ts, log)
	cycle := NewCycle(CycleDeps{
		VenueA:       venueA,
		VenueB:       venueB,
		Executor:     executor,
		Thresholds:   cfg.Thresholds,
		Notional:     cfg.Strategy.PositionSizeUSD,
		ParallelLegs: cfg.Strategy.ParallelLegs,
		Store:        store,
		Sink:         ts,
		Notifier:     notifier,
		Metrics:      m,
		Log:          log,
	})
	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		timescale: ts,
		ticker:    ticker,
		venueA:    venueA,
		venueB:    venueB,
		executor:  executor,
		metrics:   m,
		prom:      prom,
		notifier:  notifier,
		cycle:     cycle,
		runner:    NewRunner(cycle.Run, cfg.Strategy.CheckInterval, m, log),
		summary:   NewSummaryJob(notifier, log, venueA, venueB),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.timescale.Close()
	defer a.notifier.Close()

	a.logPreviousRun(ctx)
	a.timescale.Start(ctx)

	go func() {
		if err := a.ticker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("bybit ticker stream stopped", zap.Error(err))
		}
	}()

	if a.prom != nil {
		server := a.startMetricsServer()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if a.cfg.Summary.EnabledValue() {
		scheduler, err := a.summary.Schedule(ctx, a.cfg.Summary.Schedule)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	a.notifier.Info("funding arbitrage bot started",
		zap.String("venue_a", string(a.venueA.Name())),
		zap.String("venue_b", string(a.venueB.Name())),
		zap.Float64("position_size_usd", a.cfg.Strategy.PositionSizeUSD),
		zap.Duration("check_interval", a.cfg.Strategy.CheckInterval),
		zap.Bool("dry_run", a.cfg.Strategy.DryRun),
	)
	err := a.runner.Run(ctx)
	a.log.Info("funding arbitrage bot stopping")
	return err
}

func (a *App) logPreviousRun(ctx context.Context) {
	snapshot, ok, err := state.LoadCycleSnapshot(ctx, a.store)
	switch {
	case err != nil:
		a.log.Warn("failed to load last cycle snapshot", zap.Error(err))
	case ok:
		a.log.Info("last cycle",
			zap.Time("finished_at", time.UnixMilli(snapshot.FinishedAtMS)),
			zap.Float64("differential", snapshot.Differential),
			zap.Bool("opportunity", snapshot.Opportunity),
			zap.String("leg_a", snapshot.LegA.Side),
			zap.String("leg_b", snapshot.LegB.Side),
			zap.String("error", snapshot.Error),
		)
	}
	entries, err := a.executor.Recent(ctx, recentOrdersOnStart)
	if err != nil {
		a.log.Warn("failed to read order journal", zap.Error(err))
		return
	}
	for _, entry := range entries {
		a.log.Info("recent order",
			zap.String("venue", entry.Venue),
			zap.String("action", string(entry.Action)),
			zap.String("side", entry.Side),
			zap.String("status", entry.Status),
			zap.String("order_id", entry.OrderID),
			zap.Time("at", time.UnixMilli(entry.CreatedAtMS)),
		)
	}
}

func (a *App) startMetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
	return server
}
