package metrics

import "sync"

// Registry holds metrics keyed by name. Metrics are created on first access
// so callers never check for nil.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// DefaultRegistry holds the metrics declared in standard.go.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns the Counter registered under name, creating it if needed.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = NewCounter(name)
	r.counters[name] = c
	return c
}

// Gauge returns the Gauge registered under name, creating it if needed.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok = r.gauges[name]; ok {
		return g
	}
	g = NewGauge(name)
	r.gauges[name] = g
	return g
}

// Histogram returns the Histogram registered under name, creating it with
// DefaultBuckets if needed.
func (r *Registry) Histogram(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

// Describe sets the help text exported for the metric called name. Unknown
// names are ignored.
func (r *Registry) Describe(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		c.help = help
	}
	if g, ok := r.gauges[name]; ok {
		g.help = help
	}
	if h, ok := r.histograms[name]; ok {
		h.help = help
	}
}

// each calls the visitors for every metric under the read lock.
func (r *Registry) each(fc func(*Counter), fg func(*Gauge), fh func(*Histogram)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.counters {
		fc(c)
	}
	for _, g := range r.gauges {
		fg(g)
	}
	for _, h := range r.histograms {
		fh(h)
	}
}

// Snapshot returns a point-in-time copy of every metric value, keyed by
// name. Histograms map to their summary statistics.
func (r *Registry) Snapshot() map[string]interface{} {
	snap := make(map[string]interface{})
	r.each(
		func(c *Counter) { snap[c.name] = c.Value() },
		func(g *Gauge) { snap[g.name] = g.Value() },
		func(h *Histogram) {
			snap[h.name] = map[string]interface{}{
				"count": h.Count(),
				"sum":   h.Sum(),
				"min":   h.Min(),
				"max":   h.Max(),
				"mean":  h.Mean(),
			}
		},
	)
	return snap
}
