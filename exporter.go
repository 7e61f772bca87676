package main

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/staffbase/kvstore-exporter/internal/store"
)

const (
	namespace = "kvstore"
)

// Exporter reports the state of the item store at scrape time.
type Exporter struct {
	store   store.Store
	timeout time.Duration
	log     logrus.FieldLogger
	mutex   sync.Mutex
	metrics map[string]*prometheus.Desc
}

func NewExporter(st store.Store, timeout time.Duration, log logrus.FieldLogger) *Exporter {
	e := Exporter{
		store:   st,
		timeout: timeout,
		log:     log,
		metrics: map[string]*prometheus.Desc{
			"up":    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "up"), "Is 1 if the item store answered the last scrape", nil, nil),
			"items": prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "items"), "Number of items in the store", nil, nil),
		},
	}
	return &e
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range e.metrics {
		ch <- m
	}
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mutex.Lock() // To protect the store from concurrent scrapes.
	defer e.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.store.Ping(ctx); err != nil {
		e.log.WithError(err).Warn("Item store did not answer ping")
		ch <- prometheus.MustNewConstMetric(e.metrics["up"], prometheus.GaugeValue, 0)
		return
	}

	keys, err := e.store.Keys(ctx)
	if err != nil {
		e.log.WithError(err).Warn("Failed to enumerate items")
		ch <- prometheus.MustNewConstMetric(e.metrics["up"], prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(e.metrics["up"], prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(e.metrics["items"], prometheus.GaugeValue, float64(len(keys)))
}
