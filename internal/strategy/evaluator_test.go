package strategy

import (
	"math"
	"testing"
)

const (
	venueA Venue = "drift"
	venueB Venue = "bybit"
)

func rate(venue Venue, value float64) *FundingRate {
	return &FundingRate{Venue: venue, Rate: value}
}

func TestEvaluateOpportunityEqualityIsNotOpportunity(t *testing.T) {
	opp := EvaluateOpportunity(rate(venueA, 0.0002), rate(venueB, 0.0001), 0.0001)
	if !opp.HasRates {
		t.Fatalf("expected rates to be present")
	}
	if opp.HasOpportunity {
		t.Fatalf("differential %v equal to threshold must not be an opportunity", opp.Differential)
	}
}

func TestEvaluateOpportunityNegativeDifferential(t *testing.T) {
	opp := EvaluateOpportunity(rate(venueA, -0.0005), rate(venueB, 0.0005), 0.0001)
	if !opp.HasOpportunity {
		t.Fatalf("expected opportunity for differential %v", opp.Differential)
	}
	if math.Abs(opp.Differential-(-0.001)) > 1e-12 {
		t.Fatalf("expected differential -0.001, got %v", opp.Differential)
	}
	intent := IntentFor(opp, 100)
	if intent.SideA != SideLong || intent.SideB != SideShort {
		t.Fatalf("expected A long / B short, got %s / %s", intent.SideA, intent.SideB)
	}
	if intent.Notional != 100 {
		t.Fatalf("expected notional 100, got %v", intent.Notional)
	}
}

func TestEvaluateOpportunityPositiveDifferentialShortsVenueA(t *testing.T) {
	opp := EvaluateOpportunity(rate(venueA, 0.001), rate(venueB, -0.0002), 0.0001)
	if !opp.HasOpportunity {
		t.Fatalf("expected opportunity")
	}
	intent := IntentFor(opp, 50)
	if intent.SideA != SideShort || intent.SideB != SideLong {
		t.Fatalf("expected A short / B long, got %s / %s", intent.SideA, intent.SideB)
	}
}

func TestEvaluateOpportunityMissingRate(t *testing.T) {
	cases := []struct {
		name string
		a, b *FundingRate
	}{
		{"missing a", nil, rate(venueB, 0.01)},
		{"missing b", rate(venueA, 0.01), nil},
		{"both missing", nil, nil},
		{"nan", rate(venueA, math.NaN()), rate(venueB, 0.01)},
		{"inf", rate(venueA, 0.01), rate(venueB, math.Inf(-1))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opp := EvaluateOpportunity(tc.a, tc.b, 0.0001)
			if opp.HasRates || opp.HasOpportunity {
				t.Fatalf("expected no opportunity, got %+v", opp)
			}
		})
	}
}

func TestEvaluateOpportunityMatchesStrictThreshold(t *testing.T) {
	threshold := 0.0003
	pairs := [][2]float64{
		{0, 0}, {0.0004, 0}, {0, 0.0004}, {0.0001, 0.0003}, {-0.0002, 0.0002},
		{0.01, -0.01}, {0.00015, -0.00015}, {-0.0001, -0.0005},
	}
	for _, p := range pairs {
		opp := EvaluateOpportunity(rate(venueA, p[0]), rate(venueB, p[1]), threshold)
		want := math.Abs(p[0]-p[1]) > threshold
		if opp.HasOpportunity != want {
			t.Fatalf("rates %v: expected opportunity=%v, got %v", p, want, opp.HasOpportunity)
		}
	}
}
