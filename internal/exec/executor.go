// Package exec places orders on a venue and journals every attempt.
package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funding-arb-bot/internal/metrics"
	"funding-arb-bot/internal/state"
	"funding-arb-bot/internal/strategy"
	"funding-arb-bot/internal/timescale"
	"funding-arb-bot/internal/venue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const journalPrefix = "order:"

type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Entry is one journaled order attempt.
type Entry struct {
	ClientID     string  `json:"client_id"`
	Venue        string  `json:"venue"`
	Action       Action  `json:"action"`
	Side         string  `json:"side"`
	Notional     float64 `json:"notional,omitempty"`
	Size         float64 `json:"size,omitempty"`
	OrderID      string  `json:"order_id,omitempty"`
	Status       string  `json:"status"`
	FilledSize   float64 `json:"filled_size"`
	AveragePrice float64 `json:"average_price"`
	Error        string  `json:"error,omitempty"`
	CreatedAtMS  int64   `json:"created_at_ms"`
}

type Notifier interface {
	PositionOpened(venue, side string, size, price float64)
	PositionClosed(venue, side string, size, price float64, pnl *float64)
}

type EventSink interface {
	EnqueueOrder(event timescale.OrderEvent)
}

type keyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Executor never retries: a failed order is journaled, counted and returned.
type Executor struct {
	store   state.Store
	metrics *metrics.Metrics
	notify  Notifier
	sink    EventSink
	log     *zap.Logger
	now     func() time.Time
}

func New(store state.Store, m *metrics.Metrics, notify Notifier, sink EventSink, log *zap.Logger) *Executor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		store:   store,
		metrics: m,
		notify:  notify,
		sink:    sink,
		log:     log,
		now:     time.Now,
	}
}

func (e *Executor) Open(ctx context.Context, client venue.Client, req strategy.OpenRequest) (strategy.OrderResult, error) {
	entry := e.newEntry(client, ActionOpen, req.Side)
	entry.Notional = req.Notional
	entry.Size = req.Size
	log := e.log.With(
		zap.String("venue", entry.Venue),
		zap.String("client_id", entry.ClientID),
		zap.String("side", entry.Side),
	)
	log.Info("opening position", zap.Float64("notional", req.Notional), zap.Float64("size", req.Size))

	res, err := client.OpenPosition(ctx, req)
	if err = e.settle(ctx, &entry, res, err); err != nil {
		log.Error("open position failed", zap.Error(err))
		return res, err
	}
	log.Info("position opened",
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
		zap.Float64("filled_size", res.FilledSize),
		zap.Float64("average_price", res.AveragePrice),
	)
	if e.notify != nil {
		e.notify.PositionOpened(entry.Venue, entry.Side, res.FilledSize, res.AveragePrice)
	}
	return res, nil
}

// Close closes the leg held on side. pnl, when known, is reported with the
// closed event.
func (e *Executor) Close(ctx context.Context, client venue.Client, side strategy.Side, pnl *float64) (strategy.OrderResult, error) {
	entry := e.newEntry(client, ActionClose, side)
	log := e.log.With(
		zap.String("venue", entry.Venue),
		zap.String("client_id", entry.ClientID),
		zap.String("side", entry.Side),
	)
	log.Info("closing position")

	res, err := client.ClosePosition(ctx, side)
	if err = e.settle(ctx, &entry, res, err); err != nil {
		log.Error("close position failed", zap.Error(err))
		return res, err
	}
	if res.Status == strategy.OrderStatusNoPosition {
		log.Info("nothing to close")
		return res, nil
	}
	log.Info("position closed",
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
		zap.Float64("filled_size", res.FilledSize),
	)
	if e.notify != nil {
		e.notify.PositionClosed(entry.Venue, entry.Side, res.FilledSize, res.AveragePrice, pnl)
	}
	return res, nil
}

// Recent returns up to limit journal entries, newest first. Stores that cannot
// list keys yield nothing.
func (e *Executor) Recent(ctx context.Context, limit int) ([]Entry, error) {
	lister, ok := e.store.(keyLister)
	if !ok || limit <= 0 {
		return nil, nil
	}
	keys, err := lister.Keys(ctx, journalPrefix)
	if err != nil {
		return nil, err
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			e.log.Warn("skipping unreadable journal entry", zap.String("key", key), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *Executor) newEntry(client venue.Client, action Action, side strategy.Side) Entry {
	return Entry{
		ClientID:    uuid.NewString(),
		Venue:       string(client.Name()),
		Action:      action,
		Side:        string(side),
		CreatedAtMS: e.now().UnixMilli(),
	}
}

// settle records the outcome and normalises failures to ErrOrderFailure.
func (e *Executor) settle(ctx context.Context, entry *Entry, res strategy.OrderResult, err error) error {
	if err == nil && res.Status == strategy.OrderStatusFailed {
		err = fmt.Errorf("%w: venue reported %s", strategy.ErrOrderFailure, res.Status)
	}
	if err != nil && !errors.Is(err, strategy.ErrOrderFailure) {
		err = fmt.Errorf("%w: %w", strategy.ErrOrderFailure, err)
	}
	entry.OrderID = res.OrderID
	entry.Status = string(res.Status)
	entry.FilledSize = res.FilledSize
	entry.AveragePrice = res.AveragePrice
	if err != nil {
		entry.Status = string(strategy.OrderStatusFailed)
		entry.Error = err.Error()
		e.metrics.OrdersFailed.Inc()
	} else if res.Status != strategy.OrderStatusNoPosition {
		e.metrics.OrdersPlaced.Inc()
	}
	e.journal(ctx, *entry)
	return err
}

func (e *Executor) journal(ctx context.Context, entry Entry) {
	if e.sink != nil {
		e.sink.EnqueueOrder(timescale.OrderEvent{
			Time:     time.UnixMilli(entry.CreatedAtMS).UTC(),
			Venue:    entry.Venue,
			Action:   string(entry.Action),
			Side:     entry.Side,
			ClientID: entry.ClientID,
			OrderID:  entry.OrderID,
			Status:   entry.Status,
			Size:     entry.FilledSize,
			Price:    entry.AveragePrice,
			Error:    entry.Error,
		})
	}
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		e.log.Warn("failed to encode journal entry", zap.Error(err))
		return
	}
	// the journal outlives a cancelled cycle
	if err := e.store.Set(context.WithoutCancel(ctx), journalPrefix+entry.ClientID, string(payload)); err != nil {
		e.log.Warn("failed to persist journal entry", zap.String("client_id", entry.ClientID), zap.Error(err))
	}
}
