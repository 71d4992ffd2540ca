package state

import (
	"context"
	"sync"
	"testing"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestCycleSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snapshot := CycleSnapshot{
		StartedAtMS:    1000,
		FinishedAtMS:   2000,
		RateA:          -0.0005,
		RateB:          0.0005,
		HasRates:       true,
		Differential:   -0.001,
		Opportunity:    true,
		Reconciled:     true,
		PriceDeviation: 0.002,
		LegA:           LegSnapshot{Venue: "drift", Side: "LONG", Size: 0.002, EntryPrice: 50000, Sampled: true},
		LegB:           LegSnapshot{Venue: "bybit", Side: "SHORT", Size: 0.002, EntryPrice: 50100, Sampled: true},
	}
	if err := SaveCycleSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	got, ok, err := LoadCycleSnapshot(ctx, store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be present")
	}
	if got != snapshot {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestCycleSnapshotMissing(t *testing.T) {
	store := &memoryStore{}
	got, ok, err := LoadCycleSnapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot, got %#v", got)
	}
}

func TestCycleSnapshotInvalid(t *testing.T) {
	store := &memoryStore{items: map[string]string{CycleSnapshotKey: "{"}}
	_, _, err := LoadCycleSnapshot(context.Background(), store)
	if err == nil {
		t.Fatalf("expected error for invalid snapshot JSON")
	}
}

func TestCycleSnapshotNilStore(t *testing.T) {
	if err := SaveCycleSnapshot(context.Background(), nil, CycleSnapshot{}); err != nil {
		t.Fatalf("nil store save should be a no-op, got %v", err)
	}
	if _, ok, err := LoadCycleSnapshot(context.Background(), nil); ok || err != nil {
		t.Fatalf("nil store load should be empty, got ok=%v err=%v", ok, err)
	}
}
