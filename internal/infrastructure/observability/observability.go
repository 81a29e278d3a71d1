// Package observability assembles the tracer, logger and metric instruments
// behind the observability.Observability port.
package observability

import (
	"github.com/Zhima-Mochi/stockledger/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

// instruments resolves registered metrics by key. Unknown keys get no-op
// instruments so a missing registration never panics on the hot path.
type instruments struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *instruments) Counter(name observability.MetricKey) observability.Counter {
	return lookup(m.counters, name, observability.NopCounter())
}

func (m *instruments) Histogram(name observability.MetricKey) observability.Histogram {
	return lookup(m.histograms, name, observability.NopHistogram())
}

func lookup[T comparable](registered map[observability.MetricKey]T, name observability.MetricKey, fallback T) T {
	var zero T
	if v, ok := registered[name]; ok && v != zero {
		return v
	}
	return fallback
}

func compact[T comparable](in map[observability.MetricKey]T) map[observability.MetricKey]T {
	var zero T
	out := make(map[observability.MetricKey]T, len(in))
	for k, v := range in {
		if v != zero {
			out[k] = v
		}
	}
	return out
}

// New assembles a provider from the supplied tracer, logger and instruments.
// Nil parts fall back to no-ops.
func New(
	tracer observability.Tracer,
	logger observability.Logger,
	counters map[observability.MetricKey]observability.Counter,
	histograms map[observability.MetricKey]observability.Histogram,
) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	var metrics observability.Metrics = observability.NopMetrics()
	if len(counters) > 0 || len(histograms) > 0 {
		metrics = &instruments{counters: compact(counters), histograms: compact(histograms)}
	}
	return &provider{tracer: tracer, logger: logger, metrics: metrics}
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }
