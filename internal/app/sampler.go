package app

import (
	"context"
	"fmt"

	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/venue"

	"go.uber.org/zap"
)

// rateSample is nil when the venue could not be sampled.
type rateSample struct {
	a, b *strategy.FundingRate
}

type positionSample struct {
	a, b strategy.Position
	okA  bool
	okB  bool
}

func (p positionSample) complete() bool {
	return p.okA && p.okB
}

// sampleRates reads both venues concurrently. A failed read leaves that side
// absent and is counted as a sample failure. A panicking read is re-raised
// on the cycle goroutine.
func (c *Cycle) sampleRates(ctx context.Context) rateSample {
	var out rateSample
	var f fanOut
	f.Go(func() { out.a = c.sampleRate(ctx, c.venueA) })
	f.Go(func() { out.b = c.sampleRate(ctx, c.venueB) })
	f.Wait()
	return out
}

func (c *Cycle) sampleRate(ctx context.Context, client venue.Client) *strategy.FundingRate {
	rate, err := client.FetchFundingRate(ctx)
	if err != nil {
		c.sampleFailed(client, "funding rate", err)
		return nil
	}
	rate.Venue = client.Name()
	c.metrics.FundingRate.WithVenue(string(client.Name())).Set(rate.Rate)
	c.log.Info("funding rate sampled", zap.String("venue", string(rate.Venue)), zap.Float64("rate", rate.Rate))
	return &rate
}

func (c *Cycle) samplePositions(ctx context.Context) positionSample {
	var out positionSample
	var f fanOut
	f.Go(func() { out.a, out.okA = c.samplePosition(ctx, c.venueA) })
	f.Go(func() { out.b, out.okB = c.samplePosition(ctx, c.venueB) })
	f.Wait()
	return out
}

func (c *Cycle) samplePosition(ctx context.Context, client venue.Client) (strategy.Position, bool) {
	pos, err := client.FetchPosition(ctx)
	if err != nil {
		c.sampleFailed(client, "position", err)
		return strategy.Position{}, false
	}
	pos.Venue = client.Name()
	if pos.Side == "" {
		pos.Side = strategy.SideFlat
	}
	c.metrics.LegSize.WithVenue(string(client.Name())).Set(pos.Size)
	c.log.Debug("position sampled",
		zap.String("venue", string(pos.Venue)),
		zap.String("side", string(pos.Side)),
		zap.Float64("size", pos.Size),
		zap.Float64("entry_price", pos.EntryPrice),
	)
	return pos, true
}

func (c *Cycle) sampleFailed(client venue.Client, what string, err error) {
	c.metrics.SampleFailures.Inc()
	c.log.Warn("sample failed",
		zap.String("venue", string(client.Name())),
		zap.String("sample", what),
		zap.Error(fmt.Errorf("%w: %w", strategy.ErrSampleFailure, err)),
	)
}
