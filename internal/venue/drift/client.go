// Package drift trades a Drift perp market through a self-hosted Drift
// Gateway and reads funding from the public Data API.
package drift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/rest"
	"funding-arb-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const Name strategy.Venue = "drift"

var (
	fundingPrecision = decimal.New(1, 9)
	pricePrecision   = decimal.New(1, 6)
)

var ErrNoFundingRecords = errors.New("drift data api returned no funding records")

type Client struct {
	cfg     config.DriftConfig
	gateway *rest.Client
	data    *rest.Client
	log     *zap.Logger
	now     func() time.Time
}

func New(cfg config.DriftConfig, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		gateway: rest.New(cfg.GatewayURL, timeout, nil, log),
		data:    rest.New(cfg.DataAPIURL, timeout, nil, log),
		log:     log.With(zap.String("venue", string(Name))),
		now:     time.Now,
	}
}

func (c *Client) Name() strategy.Venue {
	return Name
}

type fundingRecord struct {
	Ts              decimal.Decimal `json:"ts"`
	FundingRate     decimal.Decimal `json:"fundingRate"`
	OraclePriceTwap decimal.Decimal `json:"oraclePriceTwap"`
}

func (c *Client) latestFunding(ctx context.Context) (fundingRecord, error) {
	var resp struct {
		FundingRates []fundingRecord `json:"fundingRates"`
	}
	if err := c.data.Get(ctx, "/fundingRates", url.Values{"marketName": {c.cfg.Market}}, &resp); err != nil {
		return fundingRecord{}, err
	}
	if len(resp.FundingRates) == 0 {
		return fundingRecord{}, ErrNoFundingRecords
	}
	latest := resp.FundingRates[0]
	for _, rec := range resp.FundingRates[1:] {
		if rec.Ts.GreaterThan(latest.Ts) {
			latest = rec
		}
	}
	return latest, nil
}

// FetchFundingRate converts the latest hourly record into a fraction of the
// oracle TWAP.
func (c *Client) FetchFundingRate(ctx context.Context) (strategy.FundingRate, error) {
	rec, err := c.latestFunding(ctx)
	if err != nil {
		return strategy.FundingRate{}, err
	}
	twap := rec.OraclePriceTwap.Div(pricePrecision)
	if !twap.IsPositive() {
		return strategy.FundingRate{}, fmt.Errorf("invalid oracle twap %s", rec.OraclePriceTwap)
	}
	rate := rec.FundingRate.Div(fundingPrecision).Div(twap)
	return strategy.FundingRate{Venue: Name, Rate: rate.InexactFloat64(), FetchedAt: c.now()}, nil
}

type positionInfo struct {
	Amount           decimal.Decimal `json:"amount"`
	AverageEntry     decimal.Decimal `json:"averageEntry"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	UnrealizedPnl    decimal.Decimal `json:"unrealizedPnl"`
	OraclePrice      decimal.Decimal `json:"oraclePrice"`
}

func (c *Client) positionInfo(ctx context.Context) (positionInfo, bool, error) {
	var info positionInfo
	path := "/v2/positionInfo/" + strconv.Itoa(c.cfg.MarketIndexValue())
	if err := c.gateway.Get(ctx, path, nil, &info); err != nil {
		var statusErr *rest.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return positionInfo{}, false, nil
		}
		return positionInfo{}, false, err
	}
	return info, !info.Amount.IsZero(), nil
}

func (c *Client) FetchPosition(ctx context.Context) (strategy.Position, error) {
	info, open, err := c.positionInfo(ctx)
	if err != nil {
		return strategy.Position{}, err
	}
	if !open {
		return strategy.FlatPosition(Name), nil
	}
	side := strategy.SideLong
	if info.Amount.IsNegative() {
		side = strategy.SideShort
	}
	pos := strategy.Position{
		Venue:            Name,
		Side:             side,
		Size:             info.Amount.Abs().InexactFloat64(),
		EntryPrice:       info.AverageEntry.InexactFloat64(),
		LiquidationPrice: info.LiquidationPrice.InexactFloat64(),
		UnrealizedPnl:    info.UnrealizedPnl.InexactFloat64(),
	}
	if lev, err := c.leverage(ctx); err != nil {
		c.log.Debug("leverage unavailable", zap.Error(err))
	} else {
		pos.Leverage = lev
	}
	if total, free, err := c.collateral(ctx); err != nil {
		c.log.Debug("collateral unavailable", zap.Error(err))
	} else {
		pos.Margin = total.Sub(free).InexactFloat64()
	}
	return pos, nil
}

func (c *Client) leverage(ctx context.Context) (float64, error) {
	var resp struct {
		Leverage decimal.Decimal `json:"leverage"`
	}
	if err := c.gateway.Get(ctx, "/v2/leverage", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Leverage.InexactFloat64(), nil
}

func (c *Client) collateral(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	var resp struct {
		Total decimal.Decimal `json:"total"`
		Free  decimal.Decimal `json:"free"`
	}
	if err := c.gateway.Get(ctx, "/v2/collateral", nil, &resp); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return resp.Total, resp.Free, nil
}

func (c *Client) FetchBalance(ctx context.Context) (float64, error) {
	total, _, err := c.collateral(ctx)
	if err != nil {
		return 0, err
	}
	return total.InexactFloat64(), nil
}

func (c *Client) OpenPosition(ctx context.Context, req strategy.OpenRequest) (strategy.OrderResult, error) {
	if req.Side != strategy.SideLong && req.Side != strategy.SideShort {
		return strategy.OrderResult{}, fmt.Errorf("%w: cannot place order for side %q", strategy.ErrOrderFailure, req.Side)
	}
	price := decimal.NewFromFloat(req.LimitPrice)
	size := decimal.NewFromFloat(req.Size)
	if req.Size == 0 || req.LimitPrice == 0 {
		if !price.IsPositive() {
			p, err := c.referencePrice(ctx)
			if err != nil {
				return strategy.OrderResult{}, fmt.Errorf("%w: reference price: %w", strategy.ErrOrderFailure, err)
			}
			price = p
		}
		if req.Size == 0 {
			size = decimal.NewFromFloat(req.Notional).Div(price)
		}
	}
	amount := c.roundDown(size)
	if !amount.IsPositive() {
		return strategy.OrderResult{}, fmt.Errorf("%w: amount %s rounds to zero", strategy.ErrOrderFailure, size)
	}
	if req.Side == strategy.SideShort {
		amount = amount.Neg()
	}
	order := gatewayOrder{
		MarketIndex: c.cfg.MarketIndexValue(),
		MarketType:  "perp",
		Amount:      json.Number(amount.String()),
		OrderType:   "market",
	}
	if req.LimitPrice > 0 {
		order.OrderType = "limit"
		order.Price = json.Number(price.String())
	}
	return c.place(ctx, order, amount.Abs(), price)
}

func (c *Client) ClosePosition(ctx context.Context, side strategy.Side) (strategy.OrderResult, error) {
	info, open, err := c.positionInfo(ctx)
	if err != nil {
		return strategy.OrderResult{}, err
	}
	if !open {
		return strategy.OrderResult{Status: strategy.OrderStatusNoPosition}, nil
	}
	held := strategy.SideLong
	if info.Amount.IsNegative() {
		held = strategy.SideShort
	}
	if held != side {
		c.log.Warn("close side differs from venue position; closing venue position",
			zap.String("requested", string(side)),
			zap.String("held", string(held)),
		)
	}
	order := gatewayOrder{
		MarketIndex: c.cfg.MarketIndexValue(),
		MarketType:  "perp",
		Amount:      json.Number(info.Amount.Neg().String()),
		OrderType:   "market",
		ReduceOnly:  true,
	}
	return c.place(ctx, order, info.Amount.Abs(), info.OraclePrice)
}

// gatewayOrder amounts are signed base units, positive for long.
type gatewayOrder struct {
	MarketIndex int         `json:"marketIndex"`
	MarketType  string      `json:"marketType"`
	Amount      json.Number `json:"amount"`
	Price       json.Number `json:"price,omitempty"`
	OrderType   string      `json:"orderType"`
	ReduceOnly  bool        `json:"reduceOnly"`
}

// place submits a single order. The gateway answers with the transaction
// signature only, so fills are reported as unknown.
func (c *Client) place(ctx context.Context, order gatewayOrder, size, price decimal.Decimal) (strategy.OrderResult, error) {
	var resp struct {
		Tx string `json:"tx"`
	}
	body := map[string]any{"orders": []gatewayOrder{order}}
	if err := c.gateway.Post(ctx, "/v2/orders", body, &resp); err != nil {
		return strategy.OrderResult{}, fmt.Errorf("%w: %w", strategy.ErrOrderFailure, err)
	}
	if resp.Tx == "" {
		return strategy.OrderResult{}, fmt.Errorf("%w: gateway returned no transaction signature", strategy.ErrOrderFailure)
	}
	return strategy.OrderResult{
		OrderID:      resp.Tx,
		Status:       strategy.OrderStatusUnknown,
		FilledSize:   size.InexactFloat64(),
		AveragePrice: price.InexactFloat64(),
	}, nil
}

// FetchMarkPrice returns the oracle price of the held position, or the latest
// funding oracle twap when nothing is open.
func (c *Client) FetchMarkPrice(ctx context.Context) (float64, error) {
	price, err := c.referencePrice(ctx)
	if err != nil {
		return 0, err
	}
	return price.InexactFloat64(), nil
}

func (c *Client) referencePrice(ctx context.Context) (decimal.Decimal, error) {
	info, _, err := c.positionInfo(ctx)
	if err == nil && info.OraclePrice.IsPositive() {
		return info.OraclePrice, nil
	}
	rec, ferr := c.latestFunding(ctx)
	if ferr != nil {
		if err != nil {
			return decimal.Zero, errors.Join(err, ferr)
		}
		return decimal.Zero, ferr
	}
	twap := rec.OraclePriceTwap.Div(pricePrecision)
	if !twap.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid oracle twap %s", rec.OraclePriceTwap)
	}
	return twap, nil
}

func (c *Client) roundDown(size decimal.Decimal) decimal.Decimal {
	step := decimal.NewFromFloat(c.cfg.OrderStepSize)
	if !step.IsPositive() {
		return size
	}
	return size.Div(step).Floor().Mul(step)
}
