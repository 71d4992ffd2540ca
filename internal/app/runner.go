package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/strategy"

	"go.uber.org/zap"
)

// Runner drives cycles back to back with a fixed pause between them.
type Runner struct {
	cycle    func(context.Context) error
	interval time.Duration
	machine  *strategy.StateMachine
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewRunner(cycle func(context.Context) error, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Runner {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cycle:    cycle,
		interval: interval,
		machine:  strategy.NewStateMachine(),
		metrics:  m,
		log:      log,
	}
}

func (r *Runner) State() strategy.State {
	return r.machine.State()
}

// Run returns only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.runOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	r.machine.Apply(strategy.EventStart)
	defer r.machine.Apply(strategy.EventDone)
	r.metrics.Cycles.Inc()
	start := time.Now()

	err := r.safeCycle(ctx)
	switch {
	case err == nil:
		r.log.Info("cycle complete", zap.Duration("elapsed", time.Since(start)))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		r.log.Info("cycle interrupted by shutdown")
	default:
		r.metrics.CycleFailures.Inc()
		r.log.Error("cycle failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	}
}

func (r *Runner) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			fields := []zap.Field{zap.Any("panic", panicValue(rec)), zap.Stack("stack")}
			if p, ok := rec.(*goroutinePanic); ok {
				fields = append(fields, zap.ByteString("origin_stack", p.stack))
			}
			r.log.Error("cycle panicked", fields...)
			err = fmt.Errorf("cycle panic: %v", panicValue(rec))
		}
	}()
	return r.cycle(ctx)
}
