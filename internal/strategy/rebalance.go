package strategy

import "math"

type Rebalance struct {
	Skipped     bool
	DiffPercent float64
	Triggered   bool
	Leg         LegPlan
}

// PlanRebalance shrinks the larger leg to the smaller leg's size when the
// relative size gap exceeds threshold. Legs with zero size are never touched.
func PlanRebalance(posA, posB Position, threshold float64) Rebalance {
	if posA.Size == 0 || posB.Size == 0 {
		return Rebalance{Skipped: true}
	}
	diff := math.Abs(posA.Size-posB.Size) / math.Max(posA.Size, posB.Size)
	out := Rebalance{DiffPercent: diff}
	if diff <= threshold {
		return out
	}
	larger, smaller := posA, posB
	if posB.Size > posA.Size {
		larger, smaller = posB, posA
	}
	out.Triggered = true
	out.Leg = LegPlan{
		Venue: larger.Venue,
		Steps: []Step{
			{Venue: larger.Venue, Kind: StepClose, Side: larger.Side},
			{
				Venue:   larger.Venue,
				Kind:    StepOpen,
				Side:    larger.Side,
				Request: OpenRequest{Side: larger.Side, Size: smaller.Size},
			},
		},
	}
	return out
}
