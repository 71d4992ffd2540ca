package strategy

import "math"

type Deviation struct {
	Checked     bool
	DiffPercent float64
	Flagged     bool
}

// CheckPriceDeviation compares the entry prices of both legs. A leg without
// an entry price skips the comparison.
func CheckPriceDeviation(posA, posB Position, threshold float64) Deviation {
	if posA.EntryPrice == 0 || posB.EntryPrice == 0 {
		return Deviation{}
	}
	diff := math.Abs(posA.EntryPrice-posB.EntryPrice) / math.Max(posA.EntryPrice, posB.EntryPrice)
	return Deviation{
		Checked:     true,
		DiffPercent: diff,
		Flagged:     diff > threshold,
	}
}
