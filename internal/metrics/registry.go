package metrics

import (
	"io"
	"math"
	"net/http"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

type Kind int

const (
	Counter Kind = iota
	Histogram
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Histogram:
		return "histogram"
	}
	return "unknown"
}

type definition struct {
	kind    Kind
	help    string
	labels  []string
	buckets []float64

	counter   *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

func (d *definition) matches(kind Kind, help string, labels []string, buckets []float64) bool {
	return d.kind == kind &&
		d.help == help &&
		slices.Equal(d.labels, labels) &&
		slices.Equal(d.buckets, buckets)
}

// Registry holds named, labeled counters and histograms for the lifetime of a
// process. Cells are created on first use and never removed.
type Registry struct {
	reg *prometheus.Registry

	mu   sync.RWMutex
	defs map[string]*definition
}

func NewRegistry() *Registry {
	return &Registry{
		reg:  prometheus.NewRegistry(),
		defs: map[string]*definition{},
	}
}

func (r *Registry) RegisterCounter(name, help string, labels ...string) error {
	return r.register(name, Counter, help, labels, nil)
}

func (r *Registry) RegisterHistogram(name, help string, labels []string, buckets []float64) error {
	return r.register(name, Histogram, help, labels, buckets)
}

// MustRegisterCounter is like RegisterCounter but panics on a configuration error.
func (r *Registry) MustRegisterCounter(name, help string, labels ...string) {
	if err := r.RegisterCounter(name, help, labels...); err != nil {
		panic(err)
	}
}

// MustRegisterHistogram is like RegisterHistogram but panics on a configuration error.
func (r *Registry) MustRegisterHistogram(name, help string, labels []string, buckets []float64) {
	if err := r.RegisterHistogram(name, help, labels, buckets); err != nil {
		panic(err)
	}
}

func (r *Registry) register(name string, kind Kind, help string, labels []string, buckets []float64) error {
	labels = slices.Clone(labels)
	buckets = slices.Clone(buckets)

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.defs[name]; ok {
		if d.matches(kind, help, labels, buckets) {
			return nil
		}
		return &RegistrationError{Metric: name, Reason: "already registered with a different signature"}
	}

	d := &definition{kind: kind, help: help, labels: labels, buckets: buckets}
	var c prometheus.Collector
	switch kind {
	case Counter:
		d.counter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
		c = d.counter
	case Histogram:
		if !ascending(buckets) {
			return &RegistrationError{Metric: name, Reason: "bucket bounds must be strictly ascending"}
		}
		d.histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
		c = d.histogram
	}

	if err := r.reg.Register(c); err != nil {
		return &RegistrationError{Metric: name, Reason: err.Error()}
	}
	r.defs[name] = d
	return nil
}

func ascending(bounds []float64) bool {
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return false
		}
	}
	return true
}

func (r *Registry) lookup(name string, kind Kind) (*definition, error) {
	r.mu.RLock()
	d, ok := r.defs[name]
	r.mu.RUnlock()

	if !ok || d.kind != kind {
		return nil, errors.Wrapf(ErrUnknownMetric, "%s %s", kind, name)
	}
	return d, nil
}

// Inc adds one to the counter cell for labelValues, in declaration order.
func (r *Registry) Inc(name string, labelValues ...string) error {
	d, err := r.lookup(name, Counter)
	if err != nil {
		return err
	}
	if len(labelValues) != len(d.labels) {
		return &InvalidLabelError{Metric: name, Want: len(d.labels), Got: len(labelValues)}
	}

	c, err := d.counter.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return errors.Wrapf(err, "counter %s", name)
	}
	c.Inc()
	return nil
}

// Observe records one observation of value in the histogram cell for labelValues.
// Observed quantities are durations and sizes, so negative values are rejected.
func (r *Registry) Observe(name string, value float64, labelValues ...string) error {
	d, err := r.lookup(name, Histogram)
	if err != nil {
		return err
	}
	if len(labelValues) != len(d.labels) {
		return &InvalidLabelError{Metric: name, Want: len(d.labels), Got: len(labelValues)}
	}
	if value < 0 || math.IsNaN(value) {
		return &InvalidValueError{Metric: name, Value: value}
	}

	h, err := d.histogram.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return errors.Wrapf(err, "histogram %s", name)
	}
	h.Observe(value)
	return nil
}

// Register adds a collector that is not managed through the typed API above,
// such as build info or runtime collectors.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Export writes every registered metric in the text exposition format.
// Families are ordered by name and cells by label values.
func (r *Registry) Export(w io.Writer) error {
	mfs, err := r.reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrapf(err, "encoding %s", mf.GetName())
		}
	}
	return nil
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
