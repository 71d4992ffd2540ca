package strategy

type StepKind string

const (
	StepClose StepKind = "CLOSE"
	StepOpen  StepKind = "OPEN"
)

// Step is one order action on one venue. For closes Side is the side being
// closed; for opens it is the side being opened.
type Step struct {
	Venue   Venue
	Kind    StepKind
	Side    Side
	Request OpenRequest
}

// LegPlan is the ordered list of steps for a single venue. Steps within a
// leg must run in order.
type LegPlan struct {
	Venue Venue
	Steps []Step
}

// PlanReconcile moves each leg toward the intent. A conflicting leg is closed
// before the target side is opened. The open is always issued, even when the
// leg already holds the target side.
func PlanReconcile(intent HedgeIntent, posA, posB Position) []LegPlan {
	return []LegPlan{
		planLeg(posA, intent.SideA, intent.Notional),
		planLeg(posB, intent.SideB, intent.Notional),
	}
}

func planLeg(current Position, target Side, notional float64) LegPlan {
	leg := LegPlan{Venue: current.Venue}
	if current.Side.Conflicts(target) {
		leg.Steps = append(leg.Steps, Step{Venue: current.Venue, Kind: StepClose, Side: current.Side})
	}
	leg.Steps = append(leg.Steps, Step{
		Venue:   current.Venue,
		Kind:    StepOpen,
		Side:    target,
		Request: OpenRequest{Side: target, Notional: notional},
	})
	return leg
}
