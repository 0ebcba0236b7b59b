package metrics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBuckets are the latency buckets (seconds) used for timers. The upper
// end covers a full retry cycle with Retry-After pacing.
var DefaultBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

// Prometheus is a Sink backed by Prometheus collectors. Vectors are created
// lazily on first use; the label set of a metric is fixed by that first use.
type Prometheus struct {
	registerer prometheus.Registerer
	namespace  string
	buckets    []float64

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus returns a Sink registering its collectors on reg under the
// given namespace (e.g. "riot"). A nil reg uses Registry.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = Registry
	}
	return &Prometheus{
		registerer: reg,
		namespace:  namespace,
		buckets:    DefaultBuckets,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Counter implements Sink.
func (p *Prometheus) Counter(name string, tags ...string) Counter {
	keys, values := splitTags(tags)

	p.mu.RLock()
	vec, ok := p.counters[name]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		if vec, ok = p.counters[name]; !ok {
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: p.fqName(name, "_total"),
				Help: "Counter " + name,
			}, keys)
			if registered, err := register(p.registerer, vec); err == nil {
				vec, _ = registered.(*prometheus.CounterVec)
			} else {
				vec = nil
			}
			p.counters[name] = vec
		}
		p.mu.Unlock()
	}

	if vec == nil {
		return nopMetric{}
	}
	c, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return nopMetric{}
	}
	return c
}

// Timer implements Sink.
func (p *Prometheus) Timer(name string, tags ...string) Timer {
	keys, values := splitTags(tags)

	p.mu.RLock()
	vec, ok := p.histograms[name]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		if vec, ok = p.histograms[name]; !ok {
			vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    p.fqName(name, "_seconds"),
				Help:    "Duration of " + name + " in seconds",
				Buckets: p.buckets,
			}, keys)
			if registered, err := register(p.registerer, vec); err == nil {
				vec, _ = registered.(*prometheus.HistogramVec)
			} else {
				vec = nil
			}
			p.histograms[name] = vec
		}
		p.mu.Unlock()
	}

	if vec == nil {
		return nopMetric{}
	}
	o, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return nopMetric{}
	}
	return observer{o}
}

type observer struct {
	o prometheus.Observer
}

func (t observer) Observe(d time.Duration) {
	t.o.Observe(d.Seconds())
}

// register registers c, returning the already registered collector when an
// identical one exists (e.g. two sinks sharing the default registry).
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector, nil
	}
	return nil, err
}

func (p *Prometheus) fqName(name, suffix string) string {
	return prometheus.BuildFQName(p.namespace, "", sanitize(name)+suffix)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func splitTags(tags []string) (keys, values []string) {
	n := len(tags) / 2
	keys = make([]string, 0, n)
	values = make([]string, 0, n)
	for i := 0; i+1 < len(tags); i += 2 {
		keys = append(keys, sanitize(tags[i]))
		values = append(values, tags[i+1])
	}
	return keys, values
}
