package app

import (
	"context"
	"time"

	"funding-arb-bot/internal/state"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/timescale"
	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

type CycleSink interface {
	EnqueueCycle(row timescale.CycleRow)
}

// record stores the snapshot locally and mirrors it to the time-series sink.
func (c *Cycle) record(snap state.CycleSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := state.SaveCycleSnapshot(ctx, c.store, snap); err != nil {
		c.log.Warn("failed to persist cycle snapshot", zap.Error(err))
	}
	if c.sink != nil {
		c.sink.EnqueueCycle(timescale.CycleRow{
			Time:           time.UnixMilli(snap.FinishedAtMS).UTC(),
			RateA:          snap.RateA,
			RateB:          snap.RateB,
			HasRates:       snap.HasRates,
			Differential:   snap.Differential,
			Opportunity:    snap.Opportunity,
			Rebalanced:     snap.Rebalanced,
			PriceDeviation: snap.PriceDeviation,
			DeviationFlag:  snap.DeviationFlag,
			SizeA:          snap.LegA.Size,
			SizeB:          snap.LegB.Size,
			Failed:         snap.Error != "",
		})
	}
}

func legSnapshot(client venue.Client, pos strategy.Position, ok bool) state.LegSnapshot {
	leg := state.LegSnapshot{Venue: string(client.Name()), Sampled: ok}
	if ok {
		leg.Side = string(pos.Side)
		leg.Size = pos.Size
		leg.EntryPrice = pos.EntryPrice
	}
	return leg
}
