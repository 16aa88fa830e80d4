package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Bridge exposes the package's hand-rolled Counter/Gauge primitives through
// a real prometheus.Registerer, so operators running a standard Prometheus
// scrape config can point it at this process without going through the
// custom text exporter in prometheus_exporter.go. Each Expose* call wraps
// one already-live metric in a GaugeFunc/CounterFunc collector; no value is
// duplicated, the atomic field stays the single source of truth.
type Bridge struct {
	reg       prometheus.Registerer
	namespace string
}

// NewBridge wraps reg (typically prometheus.NewRegistry(), or
// prometheus.DefaultRegisterer) with the given metric name namespace.
func NewBridge(reg prometheus.Registerer, namespace string) *Bridge {
	return &Bridge{reg: reg, namespace: namespace}
}

// ExposeGauge registers g as a Prometheus gauge under name. Returns an error
// if a collector with the same descriptor is already registered.
func (b *Bridge) ExposeGauge(name, help string, g *Gauge) error {
	c := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: b.namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(g.Value()) })
	return b.reg.Register(c)
}

// ExposeCounter registers c as a Prometheus counter under name. The wrapped
// Counter must be monotonically increasing, same as the Prometheus contract.
func (b *Bridge) ExposeCounter(name, help string, c *Counter) error {
	collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: b.namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(c.Value()) })
	return b.reg.Register(collector)
}

// ExposeHistogramMean registers a gauge tracking h's running mean, since the
// hand-rolled Histogram does not bucket observations the way a native
// prometheus.Histogram does; count and sum are exposed alongside it for
// operators who need the raw totals.
func (b *Bridge) ExposeHistogramMean(name, help string, h *Histogram) error {
	mean := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: b.namespace,
		Name:      name + "_mean",
		Help:      help + " (running mean)",
	}, h.Mean)
	if err := b.reg.Register(mean); err != nil {
		return err
	}
	count := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: b.namespace,
		Name:      name + "_count",
		Help:      help + " (observation count)",
	}, func() float64 { return float64(h.Count()) })
	if err := b.reg.Register(count); err != nil {
		return err
	}
	sum := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: b.namespace,
		Name:      name + "_sum",
		Help:      help + " (sum of observations)",
	}, h.Sum)
	return b.reg.Register(sum)
}
