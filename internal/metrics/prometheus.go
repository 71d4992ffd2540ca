package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "funding_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type promGaugeVec struct {
	vec *prometheus.GaugeVec
}

func (p promGaugeVec) WithVenue(venue string) Gauge {
	return promGauge{p.vec.WithLabelValues(venue)}
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	cycles          prometheus.Counter
	cycleFailures   prometheus.Counter
	sampleFailures  prometheus.Counter
	opportunities   prometheus.Counter
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
	rebalances      prometheus.Counter
	deviationAlerts prometheus.Counter
	fundingRate     *prometheus.GaugeVec
	legSize         *prometheus.GaugeVec
	differential    prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:        registry,
		cycles:          newCounter("cycles_total", "Total number of hedge cycles started."),
		cycleFailures:   newCounter("cycle_failures_total", "Total number of cycles abandoned on failure."),
		sampleFailures:  newCounter("sample_failures_total", "Total number of failed rate or position samples."),
		opportunities:   newCounter("opportunities_total", "Total number of funding differentials above threshold."),
		ordersPlaced:    newCounter("orders_placed_total", "Total number of orders placed."),
		ordersFailed:    newCounter("orders_failed_total", "Total number of order placement failures."),
		rebalances:      newCounter("rebalances_total", "Total number of leg size rebalances."),
		deviationAlerts: newCounter("price_deviation_alerts_total", "Total number of entry price deviation warnings."),
		fundingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "funding_rate",
			Help:      "Latest sampled funding rate per venue.",
		}, []string{"venue"}),
		legSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "leg_size",
			Help:      "Latest sampled position size per venue.",
		}, []string{"venue"}),
		differential: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "funding_rate_differential",
			Help:      "Latest funding rate differential (venue A minus venue B).",
		}),
	}
	registry.MustRegister(
		p.cycles, p.cycleFailures, p.sampleFailures, p.opportunities,
		p.ordersPlaced, p.ordersFailed, p.rebalances, p.deviationAlerts,
		p.fundingRate, p.legSize, p.differential,
	)
	p.Metrics = &Metrics{
		Cycles:          promCounter{p.cycles},
		CycleFailures:   promCounter{p.cycleFailures},
		SampleFailures:  promCounter{p.sampleFailures},
		Opportunities:   promCounter{p.opportunities},
		OrdersPlaced:    promCounter{p.ordersPlaced},
		OrdersFailed:    promCounter{p.ordersFailed},
		Rebalances:      promCounter{p.rebalances},
		DeviationAlerts: promCounter{p.deviationAlerts},
		FundingRate:     promGaugeVec{p.fundingRate},
		LegSize:         promGaugeVec{p.legSize},
		Differential:    promGauge{p.differential},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
