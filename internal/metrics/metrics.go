package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// GaugeVec is a gauge keyed by venue.
type GaugeVec interface {
	WithVenue(venue string) Gauge
}

type Metrics struct {
	Cycles          Counter
	CycleFailures   Counter
	SampleFailures  Counter
	Opportunities   Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	Rebalances      Counter
	DeviationAlerts Counter

	FundingRate  GaugeVec
	LegSize      GaugeVec
	Differential Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func (n noopGauge) WithVenue(string) Gauge { return n }

func NewNoop() *Metrics {
	c := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Cycles:          c,
		CycleFailures:   c,
		SampleFailures:  c,
		Opportunities:   c,
		OrdersPlaced:    c,
		OrdersFailed:    c,
		Rebalances:      c,
		DeviationAlerts: c,
		FundingRate:     g,
		LegSize:         g,
		Differential:    g,
	}
}
