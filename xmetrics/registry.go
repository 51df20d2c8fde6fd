// Package xmetrics is the gateway's metrics layer: a prometheus registry
// that hands out go-kit metric wrappers, so instrumented components depend
// only on the go-kit interfaces.
package xmetrics

import (
	"fmt"
	"net/http"

	"github.com/go-kit/kit/metrics"
	gokitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	CounterType   = "counter"
	GaugeType     = "gauge"
	HistogramType = "histogram"
)

// Registry is a prometheus registry that acts as a go-kit metrics provider.
// Metrics are cached by name: asking twice for the same name returns a
// wrapper over the same collector, and asking for a name with the wrong
// type panics.
type Registry struct {
	registry  *prometheus.Registry
	namespace string
	subsystem string
	cache     map[string]prometheus.Collector
}

// NewRegistry constructs a Registry with any preregistered metrics.
func NewRegistry(o *Options) (*Registry, error) {
	var pr *prometheus.Registry
	if o.pedantic() {
		pr = prometheus.NewPedanticRegistry()
	} else {
		pr = prometheus.NewRegistry()
	}

	r := &Registry{
		registry:  pr,
		namespace: o.namespace(),
		subsystem: o.subsystem(),
		cache:     make(map[string]prometheus.Collector),
	}

	for name, m := range o.metrics() {
		if len(name) == 0 {
			return nil, fmt.Errorf("metric names cannot be empty")
		}

		help := m.Help
		if len(help) == 0 {
			help = name
		}

		var collector prometheus.Collector
		switch m.Type {
		case CounterType:
			collector = prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: r.namespace,
				Subsystem: r.subsystem,
				Name:      name,
				Help:      help,
			}, nil)

		case GaugeType:
			collector = prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: r.namespace,
				Subsystem: r.subsystem,
				Name:      name,
				Help:      help,
			}, nil)

		case HistogramType:
			collector = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: r.namespace,
				Subsystem: r.subsystem,
				Name:      name,
				Help:      help,
				Buckets:   m.Buckets,
			}, nil)

		default:
			return nil, fmt.Errorf("unsupported metric type: %s", m.Type)
		}

		if err := pr.Register(collector); err != nil {
			return nil, fmt.Errorf("preregistering metric %s: %s", name, err)
		}

		r.cache[name] = collector
	}

	return r, nil
}

// NewCounter returns the go-kit counter for a name, creating it on first use.
func (r *Registry) NewCounter(name string) metrics.Counter {
	if existing, ok := r.cache[name]; ok {
		counterVec, ok := existing.(*prometheus.CounterVec)
		if !ok {
			panic(fmt.Errorf("the metric %s is not a counter", name))
		}

		return gokitprometheus.NewCounter(counterVec)
	}

	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      name,
		Help:      name,
	}, nil)

	r.registry.MustRegister(counterVec)
	r.cache[name] = counterVec
	return gokitprometheus.NewCounter(counterVec)
}

// NewGauge returns the go-kit gauge for a name, creating it on first use.
func (r *Registry) NewGauge(name string) metrics.Gauge {
	if existing, ok := r.cache[name]; ok {
		gaugeVec, ok := existing.(*prometheus.GaugeVec)
		if !ok {
			panic(fmt.Errorf("the metric %s is not a gauge", name))
		}

		return gokitprometheus.NewGauge(gaugeVec)
	}

	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      name,
		Help:      name,
	}, nil)

	r.registry.MustRegister(gaugeVec)
	r.cache[name] = gaugeVec
	return gokitprometheus.NewGauge(gaugeVec)
}

// NewHistogram returns the go-kit histogram for a name, creating it on
// first use.
func (r *Registry) NewHistogram(name string, buckets []float64) metrics.Histogram {
	if existing, ok := r.cache[name]; ok {
		histogramVec, ok := existing.(*prometheus.HistogramVec)
		if !ok {
			panic(fmt.Errorf("the metric %s is not a histogram", name))
		}

		return gokitprometheus.NewHistogram(histogramVec)
	}

	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Subsystem: r.subsystem,
		Name:      name,
		Help:      name,
		Buckets:   buckets,
	}, nil)

	r.registry.MustRegister(histogramVec)
	r.cache[name] = histogramVec
	return gokitprometheus.NewHistogram(histogramVec)
}

// Gatherer exposes the underlying registry for scrape handlers and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the scrape endpoint handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
