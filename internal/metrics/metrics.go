// Package metrics instruments docstore collections with Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"attendancesvc/internal/docstore"
)

// Metrics groups the collectors shared by every instrumented collection.
type Metrics struct {
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	watchers *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docstore_operations_total",
			Help: "Document store calls by collection, operation and result.",
		}, []string{"collection", "op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docstore_operation_duration_seconds",
			Help:    "Document store call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection", "op"}),
		watchers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docstore_change_subscriptions",
			Help: "Open change subscriptions, one per live query.",
		}, []string{"collection"}),
	}
	reg.MustRegister(m.ops, m.latency, m.watchers)
	return m
}

// Client wraps c so that every collection it hands out is instrumented.
func (m *Metrics) Client(c docstore.Client) docstore.Client {
	return &client{Client: c, m: m}
}

type client struct {
	docstore.Client
	m *Metrics
}

func (c *client) Collection(name string) docstore.Collection {
	return &collection{inner: c.Client.Collection(name), m: c.m}
}

type collection struct {
	inner docstore.Collection
	m     *Metrics
}

func (c *collection) observe(op string, start time.Time, err error) {
	name := c.inner.Name()
	result := "ok"
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	c.m.ops.WithLabelValues(name, op, result).Inc()
	c.m.latency.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
}

func (c *collection) Name() string { return c.inner.Name() }

func (c *collection) Add(ctx context.Context, fields map[string]any) (string, error) {
	start := time.Now()
	id, err := c.inner.Add(ctx, fields)
	c.observe("add", start, err)
	return id, err
}

func (c *collection) Get(ctx context.Context, id string) (docstore.Document, error) {
	start := time.Now()
	doc, err := c.inner.Get(ctx, id)
	c.observe("get", start, err)
	return doc, err
}

func (c *collection) Update(ctx context.Context, id string, fields map[string]any) error {
	start := time.Now()
	err := c.inner.Update(ctx, id, fields)
	c.observe("update", start, err)
	return err
}

func (c *collection) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, id)
	c.observe("delete", start, err)
	return err
}

func (c *collection) Find(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	start := time.Now()
	docs, err := c.inner.Find(ctx, q)
	c.observe("find", start, err)
	return docs, err
}

// Changes counts the subscription as open until its channel closes.
func (c *collection) Changes(ctx context.Context) (<-chan docstore.Change, error) {
	start := time.Now()
	in, err := c.inner.Changes(ctx)
	c.observe("changes", start, err)
	if err != nil {
		return nil, err
	}
	gauge := c.m.watchers.WithLabelValues(c.inner.Name())
	gauge.Inc()
	out := make(chan docstore.Change)
	go func() {
		defer gauge.Dec()
		defer close(out)
		for ch := range in {
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
