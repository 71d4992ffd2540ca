package venue

import (
	"context"

	"funding-arb-bot/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DryRun forwards reads to the live client and answers orders locally.
type DryRun struct {
	inner Client
	log   *zap.Logger
}

func NewDryRun(inner Client, log *zap.Logger) *DryRun {
	if log == nil {
		log = zap.NewNop()
	}
	return &DryRun{inner: inner, log: log.With(zap.String("venue", string(inner.Name())), zap.Bool("dry_run", true))}
}

func (d *DryRun) Name() strategy.Venue {
	return d.inner.Name()
}

func (d *DryRun) FetchFundingRate(ctx context.Context) (strategy.FundingRate, error) {
	return d.inner.FetchFundingRate(ctx)
}

func (d *DryRun) FetchPosition(ctx context.Context) (strategy.Position, error) {
	return d.inner.FetchPosition(ctx)
}

func (d *DryRun) FetchBalance(ctx context.Context) (float64, error) {
	return Balance(ctx, d.inner)
}

func (d *DryRun) OpenPosition(ctx context.Context, req strategy.OpenRequest) (strategy.OrderResult, error) {
	price := req.LimitPrice
	if price == 0 {
		price = d.price(ctx, 0)
	}
	size := req.Size
	if size == 0 && price > 0 {
		size = req.Notional / price
	}
	result := strategy.OrderResult{
		OrderID:      "dry-" + uuid.NewString(),
		Status:       strategy.OrderStatusFilled,
		FilledSize:   size,
		AveragePrice: price,
	}
	d.log.Info("dry run open",
		zap.String("side", string(req.Side)),
		zap.Float64("notional", req.Notional),
		zap.Float64("size", size),
		zap.Float64("price", price),
		zap.String("order_id", result.OrderID),
	)
	return result, nil
}

func (d *DryRun) ClosePosition(ctx context.Context, side strategy.Side) (strategy.OrderResult, error) {
	pos, err := d.inner.FetchPosition(ctx)
	if err != nil {
		return strategy.OrderResult{}, err
	}
	if pos.IsFlat() {
		return strategy.OrderResult{Status: strategy.OrderStatusNoPosition}, nil
	}
	result := strategy.OrderResult{
		OrderID:      "dry-" + uuid.NewString(),
		Status:       strategy.OrderStatusFilled,
		FilledSize:   pos.Size,
		AveragePrice: d.price(ctx, pos.EntryPrice),
	}
	d.log.Info("dry run close",
		zap.String("side", string(side)),
		zap.Float64("size", pos.Size),
		zap.String("order_id", result.OrderID),
	)
	return result, nil
}

// price quotes the venue's mark price, falling back to the held entry price
// and then to fallback.
func (d *DryRun) price(ctx context.Context, fallback float64) float64 {
	if reader, ok := d.inner.(PriceReader); ok {
		price, err := reader.FetchMarkPrice(ctx)
		if err == nil && price > 0 {
			return price
		}
		d.log.Warn("dry run mark price unavailable", zap.Error(err))
	}
	if fallback > 0 {
		return fallback
	}
	if pos, err := d.inner.FetchPosition(ctx); err == nil && pos.EntryPrice > 0 {
		return pos.EntryPrice
	}
	return 0
}
