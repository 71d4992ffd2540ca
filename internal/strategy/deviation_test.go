package strategy

import "testing"

func TestCheckPriceDeviationFlagsWideSpread(t *testing.T) {
	dev := CheckPriceDeviation(position(venueA, SideShort, 1, 50000), position(venueB, SideLong, 1, 50800), 0.015)
	if !dev.Checked || !dev.Flagged {
		t.Fatalf("expected deviation flagged, got %+v", dev)
	}
	if dev.DiffPercent < 0.0157 || dev.DiffPercent > 0.0158 {
		t.Fatalf("expected diff ~0.0157, got %v", dev.DiffPercent)
	}
}

func TestCheckPriceDeviationWithinThreshold(t *testing.T) {
	dev := CheckPriceDeviation(position(venueA, SideShort, 1, 50000), position(venueB, SideLong, 1, 50100), 0.015)
	if !dev.Checked || dev.Flagged {
		t.Fatalf("expected no deviation, got %+v", dev)
	}
}

func TestCheckPriceDeviationSkipsMissingEntry(t *testing.T) {
	for _, other := range []float64{0, 1, 50000, 1e9} {
		if dev := CheckPriceDeviation(position(venueA, SideFlat, 0, 0), position(venueB, SideLong, 1, other), 0.015); dev.Flagged || dev.Checked {
			t.Fatalf("expected skip for zero entry A, got %+v", dev)
		}
		if dev := CheckPriceDeviation(position(venueA, SideLong, 1, other), position(venueB, SideFlat, 0, 0), 0.015); dev.Flagged || dev.Checked {
			t.Fatalf("expected skip for zero entry B, got %+v", dev)
		}
	}
}
