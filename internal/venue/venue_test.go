package venue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/strategy"
)

type fakeClient struct {
	name strategy.Venue

	mu        sync.Mutex
	rate      float64
	position  strategy.Position
	fetchErr  error
	fetchWait time.Duration
	opens     []strategy.OpenRequest
	closes    []strategy.Side

	inFlight    int32
	maxInFlight int32
	orderDelay  time.Duration
	calls       int32
}

func (f *fakeClient) Name() strategy.Venue { return f.name }

func (f *fakeClient) FetchFundingRate(ctx context.Context) (strategy.FundingRate, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fetchWait > 0 {
		select {
		case <-ctx.Done():
			return strategy.FundingRate{}, ctx.Err()
		case <-time.After(f.fetchWait):
		}
	}
	if f.fetchErr != nil {
		return strategy.FundingRate{}, f.fetchErr
	}
	return strategy.FundingRate{Venue: f.name, Rate: f.rate, FetchedAt: time.Now()}, nil
}

func (f *fakeClient) FetchPosition(ctx context.Context) (strategy.Position, error) {
	_ = ctx
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeClient) OpenPosition(ctx context.Context, req strategy.OpenRequest) (strategy.OrderResult, error) {
	_ = ctx
	f.enter()
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	f.opens = append(f.opens, req)
	f.mu.Unlock()
	return strategy.OrderResult{OrderID: "live", Status: strategy.OrderStatusFilled}, nil
}

func (f *fakeClient) ClosePosition(ctx context.Context, side strategy.Side) (strategy.OrderResult, error) {
	_ = ctx
	f.enter()
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	f.closes = append(f.closes, side)
	f.mu.Unlock()
	return strategy.OrderResult{OrderID: "live", Status: strategy.OrderStatusFilled}, nil
}

func (f *fakeClient) enter() {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	if f.orderDelay > 0 {
		time.Sleep(f.orderDelay)
	}
}

func guardConfig() config.VenueConfig {
	return config.VenueConfig{
		CallTimeout:      50 * time.Millisecond,
		BreakerFailures:  2,
		BreakerOpenDelay: time.Minute,
	}
}

func TestGuardedTimeoutSurfacesAsError(t *testing.T) {
	inner := &fakeClient{name: "drift", fetchWait: time.Second}
	g := NewGuarded(inner, guardConfig(), nil)

	start := time.Now()
	_, err := g.FetchFundingRate(context.Background())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("call was not bounded by the timeout: %v", elapsed)
	}
	if !strings.Contains(err.Error(), "drift fetch funding rate") {
		t.Fatalf("expected venue and op in error, got %v", err)
	}
}

func TestGuardedBreakerOpensAfterFailures(t *testing.T) {
	inner := &fakeClient{name: "bybit", fetchErr: errors.New("boom")}
	g := NewGuarded(inner, guardConfig(), nil)

	for i := 0; i < 2; i++ {
		if _, err := g.FetchFundingRate(context.Background()); err == nil {
			t.Fatalf("expected failure on call %d", i)
		}
	}
	if !g.BreakerOpen() {
		t.Fatalf("expected breaker to be open")
	}
	before := atomic.LoadInt32(&inner.calls)
	if _, err := g.FetchFundingRate(context.Background()); err == nil {
		t.Fatalf("expected rejection while breaker is open")
	}
	if atomic.LoadInt32(&inner.calls) != before {
		t.Fatalf("expected open breaker to short-circuit the call")
	}
}

func TestGuardedSerialisesOrders(t *testing.T) {
	inner := &fakeClient{name: "bybit", orderDelay: 10 * time.Millisecond}
	cfg := guardConfig()
	cfg.CallTimeout = time.Second
	g := NewGuarded(inner, cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = g.OpenPosition(context.Background(), strategy.OpenRequest{Side: strategy.SideLong, Notional: 100})
			} else {
				_, _ = g.ClosePosition(context.Background(), strategy.SideShort)
			}
		}(i)
	}
	wg.Wait()
	if got := atomic.LoadInt32(&inner.maxInFlight); got != 1 {
		t.Fatalf("expected order calls to be serialised, max in flight %d", got)
	}
	if len(inner.opens) != 2 || len(inner.closes) != 2 {
		t.Fatalf("expected 2 opens and 2 closes, got %d/%d", len(inner.opens), len(inner.closes))
	}
}

func TestGuardedBalanceUnsupported(t *testing.T) {
	g := NewGuarded(&fakeClient{name: "drift"}, guardConfig(), nil)
	_, err := g.FetchBalance(context.Background())
	if !errors.Is(err, ErrBalanceUnsupported) {
		t.Fatalf("expected ErrBalanceUnsupported, got %v", err)
	}
}

func TestDryRunNeverSendsOrders(t *testing.T) {
	inner := &fakeClient{
		name:     "bybit",
		position: strategy.Position{Venue: "bybit", Side: strategy.SideShort, Size: 0.002, EntryPrice: 50000},
	}
	d := NewDryRun(inner, nil)

	res, err := d.OpenPosition(context.Background(), strategy.OpenRequest{Side: strategy.SideLong, Notional: 100})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.Status != strategy.OrderStatusFilled || !strings.HasPrefix(res.OrderID, "dry-") {
		t.Fatalf("unexpected dry run result: %#v", res)
	}
	if res.FilledSize != 100.0/50000 {
		t.Fatalf("expected size derived from entry price, got %v", res.FilledSize)
	}
	res, err = d.ClosePosition(context.Background(), strategy.SideShort)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.FilledSize != 0.002 {
		t.Fatalf("expected close of full leg, got %v", res.FilledSize)
	}
	if len(inner.opens) != 0 || len(inner.closes) != 0 {
		t.Fatalf("dry run reached the live venue")
	}
}

func TestDryRunCloseFlat(t *testing.T) {
	d := NewDryRun(&fakeClient{name: "drift", position: strategy.FlatPosition("drift")}, nil)
	res, err := d.ClosePosition(context.Background(), strategy.SideLong)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Status != strategy.OrderStatusNoPosition {
		t.Fatalf("expected NO_POSITION, got %s", res.Status)
	}
}

type pricedClient struct {
	*fakeClient
	mark float64
}

func (p *pricedClient) FetchMarkPrice(ctx context.Context) (float64, error) {
	return p.mark, nil
}

func TestDryRunOpenWhileFlatUsesMarkPrice(t *testing.T) {
	inner := &pricedClient{
		fakeClient: &fakeClient{name: "bybit", position: strategy.FlatPosition("bybit")},
		mark:       40000,
	}
	d := NewDryRun(inner, nil)

	res, err := d.OpenPosition(context.Background(), strategy.OpenRequest{Side: strategy.SideLong, Notional: 100})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.AveragePrice != 40000 || res.FilledSize != 100.0/40000 {
		t.Fatalf("expected fill at mark price, got %#v", res)
	}
	if len(inner.opens) != 0 {
		t.Fatalf("dry run reached the live venue")
	}
}

func TestDryRunCloseReportsMarkPrice(t *testing.T) {
	inner := &pricedClient{
		fakeClient: &fakeClient{
			name:     "drift",
			position: strategy.Position{Venue: "drift", Side: strategy.SideLong, Size: 0.5, EntryPrice: 30000},
		},
		mark: 31000,
	}
	res, err := NewDryRun(inner, nil).ClosePosition(context.Background(), strategy.SideLong)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.FilledSize != 0.5 || res.AveragePrice != 31000 {
		t.Fatalf("unexpected close result: %#v", res)
	}
}
