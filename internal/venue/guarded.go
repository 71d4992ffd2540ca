package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"funding-arb-bot/internal/config"
	"funding-arb-bot/internal/strategy"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/timeout"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Guarded bounds every call to the wrapped client with a rate limit, a
// timeout and a circuit breaker. Opens and closes on the same venue are
// serialised. Nothing is retried.
type Guarded struct {
	inner    Client
	log      *zap.Logger
	limiter  *rate.Limiter
	executor failsafe.Executor[any]
	breaker  circuitbreaker.CircuitBreaker[any]

	orderMu sync.Mutex
}

func NewGuarded(inner Client, cfg config.VenueConfig, log *zap.Logger) *Guarded {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("venue", string(inner.Name())))
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		WithFailureThreshold(failures).
		WithDelay(cfg.BreakerOpenDelay).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			log.Warn("venue circuit breaker state changed",
				zap.String("from", event.OldState.String()),
				zap.String("to", event.NewState.String()),
			)
		}).
		Build()
	policies := []failsafe.Policy[any]{breaker}
	if cfg.CallTimeout > 0 {
		policies = append(policies, timeout.New[any](cfg.CallTimeout))
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Guarded{
		inner:    inner,
		log:      log,
		limiter:  rate.NewLimiter(limit, burst),
		executor: failsafe.With[any](policies...),
		breaker:  breaker,
	}
}

func (g *Guarded) Name() strategy.Venue {
	return g.inner.Name()
}

func (g *Guarded) FetchFundingRate(ctx context.Context) (strategy.FundingRate, error) {
	return call(ctx, g, "fetch funding rate", g.inner.FetchFundingRate)
}

func (g *Guarded) FetchPosition(ctx context.Context) (strategy.Position, error) {
	return call(ctx, g, "fetch position", g.inner.FetchPosition)
}

func (g *Guarded) OpenPosition(ctx context.Context, req strategy.OpenRequest) (strategy.OrderResult, error) {
	g.orderMu.Lock()
	defer g.orderMu.Unlock()
	return call(ctx, g, "open position", func(ctx context.Context) (strategy.OrderResult, error) {
		return g.inner.OpenPosition(ctx, req)
	})
}

func (g *Guarded) ClosePosition(ctx context.Context, side strategy.Side) (strategy.OrderResult, error) {
	g.orderMu.Lock()
	defer g.orderMu.Unlock()
	return call(ctx, g, "close position", func(ctx context.Context) (strategy.OrderResult, error) {
		return g.inner.ClosePosition(ctx, side)
	})
}

func (g *Guarded) FetchBalance(ctx context.Context) (float64, error) {
	return call(ctx, g, "fetch balance", func(ctx context.Context) (float64, error) {
		return Balance(ctx, g.inner)
	})
}

// BreakerOpen reports whether calls are currently being rejected.
func (g *Guarded) BreakerOpen() bool {
	return g.breaker.IsOpen()
}

func call[R any](ctx context.Context, g *Guarded, op string, fn func(context.Context) (R, error)) (R, error) {
	var zero R
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%s %s: %w", g.inner.Name(), op, err)
	}
	start := time.Now()
	out, err := g.executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return fn(exec.Context())
	})
	if err != nil {
		switch {
		case errors.Is(err, timeout.ErrExceeded):
			g.log.Warn("venue call timed out", zap.String("op", op), zap.Duration("elapsed", time.Since(start)))
		case errors.Is(err, circuitbreaker.ErrOpen):
			g.log.Warn("venue call rejected by open breaker", zap.String("op", op))
		}
		return zero, fmt.Errorf("%s %s: %w", g.inner.Name(), op, err)
	}
	result, ok := out.(R)
	if !ok {
		return zero, fmt.Errorf("%s %s: unexpected result type %T", g.inner.Name(), op, out)
	}
	return result, nil
}
