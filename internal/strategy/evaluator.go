package strategy

import "math"

// Opportunity is the outcome of one funding-rate comparison. Differential
// is only meaningful when HasRates is true.
type Opportunity struct {
	RateA          float64
	RateB          float64
	HasRates       bool
	Differential   float64
	HasOpportunity bool
}

// EvaluateOpportunity compares the two venue rates. A nil or non-finite rate
// counts as a missing sample and never yields an opportunity.
func EvaluateOpportunity(rateA, rateB *FundingRate, threshold float64) Opportunity {
	if !usableRate(rateA) || !usableRate(rateB) {
		return Opportunity{}
	}
	diff := rateA.Rate - rateB.Rate
	return Opportunity{
		RateA:          rateA.Rate,
		RateB:          rateB.Rate,
		HasRates:       true,
		Differential:   diff,
		HasOpportunity: math.Abs(diff) > threshold,
	}
}

// IntentFor derives target sides from the sign of the differential: the
// venue paying the higher rate is shorted.
func IntentFor(opp Opportunity, notional float64) HedgeIntent {
	if opp.RateA > opp.RateB {
		return HedgeIntent{SideA: SideShort, SideB: SideLong, Notional: notional}
	}
	return HedgeIntent{SideA: SideLong, SideB: SideShort, Notional: notional}
}

func usableRate(rate *FundingRate) bool {
	if rate == nil {
		return false
	}
	return !math.IsNaN(rate.Rate) && !math.IsInf(rate.Rate, 0)
}
