// Package bybit trades a single USDT linear perpetual through the Bybit v5 API.
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/rest"
	"funding-arb-bot/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Name     strategy.Venue = "bybit"
	category                = "linear"
)

var ErrEmptyResult = errors.New("bybit returned an empty list")

// APIError is a response whose retCode is non-zero.
type APIError struct {
	Path    string
	RetCode int
	RetMsg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: %s (retCode %d)", e.Path, e.RetMsg, e.RetCode)
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// MarkPricer supplies a recent mark price, typically from the ticker stream.
type MarkPricer interface {
	MarkPrice() (float64, bool)
}

type Client struct {
	cfg     config.BybitConfig
	public  *rest.Client
	private *rest.Client
	marks   MarkPricer
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	lot    lotSize
	hasLot bool
}

type lotSize struct {
	step   decimal.Decimal
	minQty decimal.Decimal
}

func New(cfg config.BybitConfig, timeout time.Duration, marks MarkPricer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		cfg:   cfg,
		marks: marks,
		log:   log.With(zap.String("venue", string(Name))),
		now:   time.Now,
	}
	c.public = rest.New(cfg.BaseURL, timeout, nil, log)
	c.private = rest.New(cfg.BaseURL, timeout, c.sign, log)
	return c
}

func (c *Client) Name() strategy.Venue {
	return Name
}

// sign implements the v5 HMAC scheme: hex(HMAC_SHA256(ts + key + recvWindow + payload)).
func (c *Client) sign(req *http.Request, payload []byte) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return errors.New("bybit api credentials are not configured")
	}
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(timestamp + c.cfg.APIKey + c.cfg.RecvWindow))
	mac.Write(payload)
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.cfg.RecvWindow)
	return nil
}

func (c *Client) FetchFundingRate(ctx context.Context) (strategy.FundingRate, error) {
	var result struct {
		List []struct {
			FundingRate          string `json:"fundingRate"`
			FundingRateTimestamp string `json:"fundingRateTimestamp"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {c.cfg.Symbol}, "limit": {"1"}}
	if err := c.get(ctx, c.public, "/v5/market/funding/history", query, &result); err != nil {
		return strategy.FundingRate{}, err
	}
	if len(result.List) == 0 {
		return strategy.FundingRate{}, fmt.Errorf("funding history: %w", ErrEmptyResult)
	}
	rate, err := decimal.NewFromString(result.List[0].FundingRate)
	if err != nil {
		return strategy.FundingRate{}, fmt.Errorf("parse funding rate %q: %w", result.List[0].FundingRate, err)
	}
	return strategy.FundingRate{Venue: Name, Rate: rate.InexactFloat64(), FetchedAt: c.now()}, nil
}

type positionRow struct {
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	EntryPrice    string `json:"entryPrice"`
	Leverage      string `json:"leverage"`
	LiqPrice      string `json:"liqPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	PositionIM    string `json:"positionIM"`
}

func (c *Client) FetchPosition(ctx context.Context) (strategy.Position, error) {
	var result struct {
		List []positionRow `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {c.cfg.Symbol}}
	if err := c.get(ctx, c.private, "/v5/position/list", query, &result); err != nil {
		return strategy.Position{}, err
	}
	if len(result.List) == 0 {
		return strategy.FlatPosition(Name), nil
	}
	row := result.List[0]
	size := parseFloat(row.Size)
	var side strategy.Side
	switch row.Side {
	case "Buy":
		side = strategy.SideLong
	case "Sell":
		side = strategy.SideShort
	default:
		side = strategy.SideFlat
	}
	if size == 0 || side == strategy.SideFlat {
		return strategy.FlatPosition(Name), nil
	}
	entry := parseFloat(row.AvgPrice)
	if entry == 0 {
		entry = parseFloat(row.EntryPrice)
	}
	return strategy.Position{
		Venue:            Name,
		Side:             side,
		Size:             size,
		EntryPrice:       entry,
		Leverage:         parseFloat(row.Leverage),
		LiquidationPrice: parseFloat(row.LiqPrice),
		UnrealizedPnl:    parseFloat(row.UnrealisedPnl),
		Margin:           parseFloat(row.PositionIM),
	}, nil
}

func (c *Client) FetchBalance(ctx context.Context) (float64, error) {
	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	query := url.Values{"accountType": {"UNIFIED"}, "coin": {"USDT"}}
	if err := c.get(ctx, c.private, "/v5/account/wallet-balance", query, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 || len(result.List[0].Coin) == 0 {
		return 0, fmt.Errorf("wallet balance: %w", ErrEmptyResult)
	}
	return parseFloat(result.List[0].Coin[0].WalletBalance), nil
}

func (c *Client) OpenPosition(ctx context.Context, req strategy.OpenRequest) (strategy.OrderResult, error) {
	side, err := orderSide(req.Side)
	if err != nil {
		return strategy.OrderResult{}, err
	}
	lot, err := c.lotSize(ctx)
	if err != nil {
		return strategy.OrderResult{}, fmt.Errorf("%w: %w", strategy.ErrOrderFailure, err)
	}
	size := decimal.NewFromFloat(req.Size)
	if req.Size == 0 {
		price := req.LimitPrice
		if price == 0 {
			price, err = c.markPrice(ctx)
			if err != nil {
				return strategy.OrderResult{}, fmt.Errorf("%w: mark price: %w", strategy.ErrOrderFailure, err)
			}
		}
		size = decimal.NewFromFloat(req.Notional).Div(decimal.NewFromFloat(price))
	}
	qty := roundDown(size, lot.step)
	if qty.LessThanOrEqual(decimal.Zero) || qty.LessThan(lot.minQty) {
		return strategy.OrderResult{}, fmt.Errorf("%w: quantity %s below minimum %s", strategy.ErrOrderFailure, qty, lot.minQty)
	}
	order := map[string]any{
		"category":    category,
		"symbol":      c.cfg.Symbol,
		"side":        side,
		"orderType":   "Market",
		"qty":         qty.String(),
		"timeInForce": "GTC",
		"orderLinkId": uuid.NewString(),
	}
	if req.LimitPrice > 0 {
		order["orderType"] = "Limit"
		order["price"] = decimal.NewFromFloat(req.LimitPrice).String()
	}
	return c.placeOrder(ctx, order)
}

func (c *Client) ClosePosition(ctx context.Context, side strategy.Side) (strategy.OrderResult, error) {
	pos, err := c.FetchPosition(ctx)
	if err != nil {
		return strategy.OrderResult{}, err
	}
	if pos.IsFlat() {
		return strategy.OrderResult{Status: strategy.OrderStatusNoPosition}, nil
	}
	if side != pos.Side {
		c.log.Warn("close side differs from venue position; closing venue position",
			zap.String("requested", string(side)),
			zap.String("held", string(pos.Side)),
		)
	}
	closeSide, err := orderSide(pos.Side.Opposite())
	if err != nil {
		return strategy.OrderResult{}, err
	}
	order := map[string]any{
		"category":    category,
		"symbol":      c.cfg.Symbol,
		"side":        closeSide,
		"orderType":   "Market",
		"qty":         decimal.NewFromFloat(pos.Size).String(),
		"timeInForce": "GTC",
		"reduceOnly":  true,
		"orderLinkId": uuid.NewString(),
	}
	return c.placeOrder(ctx, order)
}

func (c *Client) placeOrder(ctx context.Context, order map[string]any) (strategy.OrderResult, error) {
	var created struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := c.post(ctx, "/v5/order/create", order, &created); err != nil {
		return strategy.OrderResult{}, fmt.Errorf("%w: %w", strategy.ErrOrderFailure, err)
	}
	result, err := c.orderDetails(ctx, created.OrderID)
	if err != nil {
		c.log.Warn("order placed but details unavailable", zap.String("order_id", created.OrderID), zap.Error(err))
		return strategy.OrderResult{OrderID: created.OrderID, Status: strategy.OrderStatusUnknown}, nil
	}
	return result, nil
}

func (c *Client) orderDetails(ctx context.Context, orderID string) (strategy.OrderResult, error) {
	var result struct {
		List []struct {
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {c.cfg.Symbol}, "orderId": {orderID}}
	if err := c.get(ctx, c.private, "/v5/order/history", query, &result); err != nil {
		return strategy.OrderResult{}, err
	}
	if len(result.List) == 0 {
		return strategy.OrderResult{}, fmt.Errorf("order history: %w", ErrEmptyResult)
	}
	row := result.List[0]
	filled := parseFloat(row.CumExecQty)
	return strategy.OrderResult{
		OrderID:      orderID,
		Status:       mapOrderStatus(row.OrderStatus, filled),
		FilledSize:   filled,
		AveragePrice: parseFloat(row.AvgPrice),
	}, nil
}

func mapOrderStatus(raw string, filled float64) strategy.OrderStatus {
	switch raw {
	case "Filled":
		return strategy.OrderStatusFilled
	case "PartiallyFilledCanceled":
		if filled > 0 {
			return strategy.OrderStatusFilled
		}
		return strategy.OrderStatusFailed
	case "Rejected", "Cancelled", "Deactivated":
		return strategy.OrderStatusFailed
	}
	return strategy.OrderStatusUnknown
}

// FetchMarkPrice returns the streamed mark price, or the ticker's when the
// stream has nothing fresh.
func (c *Client) FetchMarkPrice(ctx context.Context) (float64, error) {
	return c.markPrice(ctx)
}

func (c *Client) markPrice(ctx context.Context) (float64, error) {
	if c.marks != nil {
		if price, ok := c.marks.MarkPrice(); ok {
			return price, nil
		}
	}
	var result struct {
		List []struct {
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {c.cfg.Symbol}}
	if err := c.get(ctx, c.public, "/v5/market/tickers", query, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("tickers: %w", ErrEmptyResult)
	}
	price := parseFloat(result.List[0].MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("invalid mark price %q", result.List[0].MarkPrice)
	}
	return price, nil
}

func (c *Client) lotSize(ctx context.Context) (lotSize, error) {
	c.mu.Lock()
	if c.hasLot {
		lot := c.lot
		c.mu.Unlock()
		return lot, nil
	}
	c.mu.Unlock()

	var result struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {c.cfg.Symbol}}
	if err := c.get(ctx, c.public, "/v5/market/instruments-info", query, &result); err != nil {
		return lotSize{}, err
	}
	if len(result.List) == 0 {
		return lotSize{}, fmt.Errorf("instruments info: %w", ErrEmptyResult)
	}
	step, err := decimal.NewFromString(result.List[0].LotSizeFilter.QtyStep)
	if err != nil || !step.IsPositive() {
		return lotSize{}, fmt.Errorf("invalid qty step %q", result.List[0].LotSizeFilter.QtyStep)
	}
	minQty, _ := decimal.NewFromString(result.List[0].LotSizeFilter.MinOrderQty)
	lot := lotSize{step: step, minQty: minQty}
	c.mu.Lock()
	c.lot = lot
	c.hasLot = true
	c.mu.Unlock()
	return lot, nil
}

func (c *Client) get(ctx context.Context, client *rest.Client, path string, query url.Values, out any) error {
	var env envelope
	if err := client.Get(ctx, path, query, &env); err != nil {
		return err
	}
	return unwrap(path, env, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var env envelope
	if err := c.private.Post(ctx, path, body, &env); err != nil {
		return err
	}
	return unwrap(path, env, out)
}

func unwrap(path string, env envelope, out any) error {
	if env.RetCode != 0 {
		return &APIError{Path: path, RetCode: env.RetCode, RetMsg: env.RetMsg}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("bybit %s: decode result: %w", path, err)
	}
	return nil
}

func orderSide(side strategy.Side) (string, error) {
	switch side {
	case strategy.SideLong:
		return "Buy", nil
	case strategy.SideShort:
		return "Sell", nil
	}
	return "", fmt.Errorf("%w: cannot place order for side %q", strategy.ErrOrderFailure, side)
}

func roundDown(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func parseFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
