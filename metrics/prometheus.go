package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric name.
const Namespace = "flightshield"

// Collector exposes a Registry to Prometheus. It is an unchecked collector:
// metrics may be created after registration, so Describe sends nothing.
type Collector struct {
	reg       *Registry
	namespace string
}

// NewCollector returns a collector over reg.
func NewCollector(reg *Registry, namespace string) *Collector {
	return &Collector{reg: reg, namespace: namespace}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.each(
		func(m *Counter) {
			ch <- prometheus.MustNewConstMetric(c.desc(m.name, m.help), prometheus.CounterValue, float64(m.Value()))
		},
		func(m *Gauge) {
			ch <- prometheus.MustNewConstMetric(c.desc(m.name, m.help), prometheus.GaugeValue, float64(m.Value()))
		},
		func(m *Histogram) {
			ch <- prometheus.MustNewConstHistogram(c.desc(m.name, m.help), m.Count(), m.Sum(), m.Buckets())
		},
	)
}

func (c *Collector) desc(name, help string) *prometheus.Desc {
	if help == "" {
		help = name
	}
	fq := prometheus.BuildFQName(c.namespace, "", strings.ReplaceAll(name, ".", "_"))
	return prometheus.NewDesc(fq, help, nil, nil)
}

// Handler serves reg in the Prometheus exposition format, together with Go
// runtime and process metrics.
func Handler(reg *Registry) http.Handler {
	pr := prometheus.NewRegistry()
	pr.MustRegister(
		NewCollector(reg, Namespace),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(pr, promhttp.HandlerOpts{})
}
