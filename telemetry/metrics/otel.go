package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// OtelProvider implements Provider on top of an OpenTelemetry metric.Meter,
// offered alongside PrometheusProvider so deployments that already ship an
// OTel collector pipeline (per the DOMAIN STACK) don't need a Prometheus
// scrape target at all.
type OtelProvider struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOtelProvider returns a Provider backed by meter.
func NewOtelProvider(meter metric.Meter) *OtelProvider {
	return &OtelProvider{
		meter:      meter,
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func fqName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "_" + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "_" + name
	}
	return name
}

func (p *OtelProvider) NewCounter(opts CounterOpts) Counter {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[fq]
	if !ok {
		var err error
		c, err = p.meter.Float64Counter(fq, metric.WithDescription(opts.Help))
		if err != nil {
			return noopCounter{}
		}
		p.counters[fq] = c
	}
	return &otelCounter{c: c, labelKeys: opts.Labels}
}

func (p *OtelProvider) NewGauge(opts GaugeOpts) Gauge {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gauges[fq]
	if !ok {
		var err error
		g, err = p.meter.Float64Gauge(fq, metric.WithDescription(opts.Help))
		if err != nil {
			return noopGauge{}
		}
		p.gauges[fq] = g
	}
	return &otelGauge{g: g, labelKeys: opts.Labels}
}

func (p *OtelProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histograms[fq]
	if !ok {
		histOpts := []metric.Float64HistogramOption{metric.WithDescription(opts.Help)}
		if len(opts.Buckets) > 0 {
			histOpts = append(histOpts, metric.WithExplicitBucketBoundaries(opts.Buckets...))
		}
		var err error
		h, err = p.meter.Float64Histogram(fq, histOpts...)
		if err != nil {
			return noopHistogram{}
		}
		p.histograms[fq] = h
	}
	return &otelHistogram{h: h, labelKeys: opts.Labels}
}

func (p *OtelProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return newStartedTimer(hist) }
}

func (p *OtelProvider) Health(context.Context) error { return nil }

func attrsFor(keys, values []string) []any {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	pairs := make([]any, 0, n*2)
	for i := 0; i < n; i++ {
		pairs = append(pairs, keys[i], values[i])
	}
	return pairs
}

type otelCounter struct {
	c         metric.Float64Counter
	labelKeys []string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	c.c.Add(context.Background(), delta, metric.WithAttributes(attrSet(c.labelKeys, labels)...))
}

type otelGauge struct {
	g         metric.Float64Gauge
	labelKeys []string
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.g.Record(context.Background(), v, metric.WithAttributes(attrSet(g.labelKeys, labels)...))
}
func (g *otelGauge) Add(delta float64, labels ...string) {
	g.g.Record(context.Background(), delta, metric.WithAttributes(attrSet(g.labelKeys, labels)...))
}

type otelHistogram struct {
	h         metric.Float64Histogram
	labelKeys []string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, metric.WithAttributes(attrSet(h.labelKeys, labels)...))
}
