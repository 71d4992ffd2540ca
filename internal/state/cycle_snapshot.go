package state

import (
	"context"
	"encoding/json"
	"strings"
)

const CycleSnapshotKey = "cycle:last_snapshot"

type LegSnapshot struct {
	Venue      string  `json:"venue"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	Sampled    bool    `json:"sampled"`
}

// CycleSnapshot summarises the most recent cycle.
type CycleSnapshot struct {
	StartedAtMS    int64       `json:"started_at_ms"`
	FinishedAtMS   int64       `json:"finished_at_ms"`
	RateA          float64     `json:"rate_a"`
	RateB          float64     `json:"rate_b"`
	HasRates       bool        `json:"has_rates"`
	Differential   float64     `json:"differential"`
	Opportunity    bool        `json:"opportunity"`
	Reconciled     bool        `json:"reconciled"`
	Rebalanced     bool        `json:"rebalanced"`
	PriceDeviation float64     `json:"price_deviation"`
	DeviationFlag  bool        `json:"deviation_flag"`
	LegA           LegSnapshot `json:"leg_a"`
	LegB           LegSnapshot `json:"leg_b"`
	Error          string      `json:"error,omitempty"`
}

func LoadCycleSnapshot(ctx context.Context, store Store) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CycleSnapshotKey)
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, CycleSnapshotKey, string(payload))
}
