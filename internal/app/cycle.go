package app

import (
	"context"
	"fmt"
	"time"

	"funding-arb-bot/internal/alerts"
	"funding-arb-bot/internal/exec"
	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/state"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

// Cycle runs one evaluate, reconcile, rebalance and deviation pass over the
// two venues.
type Cycle struct {
	venueA       venue.Client
	venueB       venue.Client
	executor     *exec.Executor
	thresholds   strategy.Thresholds
	notional     float64
	parallelLegs bool

	store    state.Store
	sink     CycleSink
	notifier *alerts.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

type CycleDeps struct {
	VenueA       venue.Client
	VenueB       venue.Client
	Executor     *exec.Executor
	Thresholds   strategy.Thresholds
	Notional     float64
	ParallelLegs bool
	Store        state.Store
	Sink         CycleSink
	Notifier     *alerts.Notifier
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

func NewCycle(deps CycleDeps) *Cycle {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Executor == nil {
		var notify exec.Notifier
		if deps.Notifier != nil {
			notify = deps.Notifier
		}
		deps.Executor = exec.New(deps.Store, deps.Metrics, notify, nil, deps.Log)
	}
	return &Cycle{
		venueA:       deps.VenueA,
		venueB:       deps.VenueB,
		executor:     deps.Executor,
		thresholds:   deps.Thresholds,
		notional:     deps.Notional,
		parallelLegs: deps.ParallelLegs,
		store:        deps.Store,
		sink:         deps.Sink,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		log:          deps.Log,
		now:          time.Now,
	}
}

// Run executes one cycle. Sample and order failures are handled inside the
// cycle; only cancellation is returned.
func (c *Cycle) Run(ctx context.Context) error {
	snap := state.CycleSnapshot{StartedAtMS: c.now().UnixMilli()}
	defer func() {
		rec := recover()
		if rec != nil {
			snap.Error = fmt.Sprintf("panic: %v", panicValue(rec))
		}
		snap.FinishedAtMS = c.now().UnixMilli()
		c.record(snap)
		if rec != nil {
			panic(rec)
		}
	}()

	rates := c.sampleRates(ctx)
	if err := ctx.Err(); err != nil {
		snap.Error = err.Error()
		return err
	}
	opp := strategy.EvaluateOpportunity(rates.a, rates.b, c.thresholds.FundingRate)
	snap.HasRates = opp.HasRates
	snap.RateA, snap.RateB = opp.RateA, opp.RateB
	snap.Differential = opp.Differential
	snap.Opportunity = opp.HasOpportunity
	if !opp.HasRates {
		c.log.Warn("funding rates incomplete; skipping opportunity check")
	} else {
		c.metrics.Differential.Set(opp.Differential)
		c.log.Info("opportunity evaluated",
			zap.Float64("rate_a", opp.RateA),
			zap.Float64("rate_b", opp.RateB),
			zap.Float64("differential", opp.Differential),
			zap.Float64("threshold", c.thresholds.FundingRate),
			zap.Bool("opportunity", opp.HasOpportunity),
		)
	}

	if opp.HasOpportunity {
		c.metrics.Opportunities.Inc()
		if c.notifier != nil {
			c.notifier.OpportunityFound(string(c.venueA.Name()), string(c.venueB.Name()), opp.RateA, opp.RateB, opp.Differential)
		}
		snap.Reconciled = c.reconcile(ctx, opp)
	}
	if err := ctx.Err(); err != nil {
		snap.Error = err.Error()
		return err
	}

	snap.Rebalanced = c.rebalance(ctx)
	if err := ctx.Err(); err != nil {
		snap.Error = err.Error()
		return err
	}

	c.checkDeviation(ctx, &snap)
	return ctx.Err()
}

func (c *Cycle) reconcile(ctx context.Context, opp strategy.Opportunity) bool {
	positions := c.samplePositions(ctx)
	if !positions.complete() {
		c.log.Warn("positions incomplete; skipping reconcile")
		return false
	}
	intent := strategy.IntentFor(opp, c.notional)
	c.log.Info("reconciling legs",
		zap.String("target_a", string(intent.SideA)),
		zap.String("target_b", string(intent.SideB)),
		zap.Float64("notional", intent.Notional),
	)
	c.execute(ctx, strategy.PlanReconcile(intent, positions.a, positions.b), positions)
	return true
}

func (c *Cycle) rebalance(ctx context.Context) bool {
	positions := c.samplePositions(ctx)
	if !positions.complete() {
		c.log.Warn("positions incomplete; skipping rebalance")
		return false
	}
	plan := strategy.PlanRebalance(positions.a, positions.b, c.thresholds.BalanceAdjustment)
	if plan.Skipped {
		c.log.Debug("rebalance skipped; a leg is empty")
		return false
	}
	if !plan.Triggered {
		return false
	}
	c.metrics.Rebalances.Inc()
	c.log.Info("rebalancing legs",
		zap.String("venue", string(plan.Leg.Venue)),
		zap.Float64("size_a", positions.a.Size),
		zap.Float64("size_b", positions.b.Size),
		zap.Float64("diff_pct", plan.DiffPercent),
		zap.Float64("threshold", c.thresholds.BalanceAdjustment),
	)
	c.execute(ctx, []strategy.LegPlan{plan.Leg}, positions)
	return true
}

func (c *Cycle) checkDeviation(ctx context.Context, snap *state.CycleSnapshot) {
	positions := c.samplePositions(ctx)
	snap.LegA = legSnapshot(c.venueA, positions.a, positions.okA)
	snap.LegB = legSnapshot(c.venueB, positions.b, positions.okB)
	if !positions.complete() {
		c.log.Warn("positions incomplete; skipping deviation check")
		return
	}
	dev := strategy.CheckPriceDeviation(positions.a, positions.b, c.thresholds.PriceDeviation)
	snap.PriceDeviation = dev.DiffPercent
	snap.DeviationFlag = dev.Flagged
	if !dev.Flagged {
		return
	}
	c.metrics.DeviationAlerts.Inc()
	fields := []zap.Field{
		zap.Float64("entry_a", positions.a.EntryPrice),
		zap.Float64("entry_b", positions.b.EntryPrice),
		zap.Float64("diff_pct", dev.DiffPercent),
		zap.Float64("threshold", c.thresholds.PriceDeviation),
	}
	if c.notifier != nil {
		c.notifier.Warning("entry price deviation above threshold", fields...)
		return
	}
	c.log.Warn("entry price deviation above threshold", fields...)
}

// execute runs every leg's steps in order. Legs run one after another unless
// parallel legs are enabled. Failed steps are logged by the executor and do
// not stop later steps.
func (c *Cycle) execute(ctx context.Context, plans []strategy.LegPlan, positions positionSample) {
	if !c.parallelLegs {
		for _, leg := range plans {
			c.executeLeg(ctx, leg, positions)
		}
		return
	}
	var f fanOut
	for _, leg := range plans {
		f.Go(func() { c.executeLeg(ctx, leg, positions) })
	}
	f.Wait()
}

func (c *Cycle) executeLeg(ctx context.Context, leg strategy.LegPlan, positions positionSample) {
	client := c.venueFor(leg.Venue)
	if client == nil {
		c.log.Error("no client for venue", zap.String("venue", string(leg.Venue)))
		return
	}
	for _, step := range leg.Steps {
		if ctx.Err() != nil {
			return
		}
		switch step.Kind {
		case strategy.StepClose:
			var pnl *float64
			if held, ok := positions.forVenue(leg.Venue); ok {
				pnl = &held.UnrealizedPnl
			}
			_, _ = c.executor.Close(ctx, client, step.Side, pnl)
		case strategy.StepOpen:
			_, _ = c.executor.Open(ctx, client, step.Request)
		}
	}
}

func (c *Cycle) venueFor(name strategy.Venue) venue.Client {
	switch name {
	case c.venueA.Name():
		return c.venueA
	case c.venueB.Name():
		return c.venueB
	}
	return nil
}

func (p positionSample) forVenue(name strategy.Venue) (strategy.Position, bool) {
	if p.okA && p.a.Venue == name {
		return p.a, true
	}
	if p.okB && p.b.Venue == name {
		return p.b, true
	}
	return strategy.Position{}, false
}
