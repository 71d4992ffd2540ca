package timescale

import (
	"context"
	"testing"
	"time"

	"funding-arb-bot/internal/config"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.EnqueueCycle(CycleRow{Time: time.Now()})
	w.EnqueueOrder(OrderEvent{Time: time.Now()})
	w.Start(context.Background())
	if err := w.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "", 1, nil)
	w.EnqueueCycle(CycleRow{RateA: 1})
	w.EnqueueCycle(CycleRow{RateA: 2})
	w.EnqueueOrder(OrderEvent{Venue: "bybit"})
	w.EnqueueOrder(OrderEvent{Venue: "drift"})
	w.EnqueueOrder(OrderEvent{Venue: "drift"})

	cycles, orders := w.Dropped()
	if cycles != 1 || orders != 2 {
		t.Fatalf("unexpected drop counts: cycles=%d orders=%d", cycles, orders)
	}
	if got := <-w.cycles; got.RateA != 1 {
		t.Fatalf("expected first row to be kept, got %#v", got)
	}
}

func TestTableUsesSchema(t *testing.T) {
	w := newWriter(nil, "arb", 0, nil)
	if got := w.table("order_events"); got != "arb.order_events" {
		t.Fatalf("unexpected table name %s", got)
	}
	if cap(w.cycles) != 256 {
		t.Fatalf("expected default queue size, got %d", cap(w.cycles))
	}
}
