// Package metrics exposes Prometheus counters for the application source:
// submissions, rejections, forwarded items and streaming-task stops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as the "reason" label of items_rejected_total.
const (
	ReasonNotStarted = "not-started"
	ReasonNoClock    = "no-clock"
	ReasonFull       = "full"
	ReasonClosed     = "closed"
	ReasonNoChannel  = "no-channel"
)

// Collector holds the application source metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	submitted *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	forwarded *prometheus.CounterVec
	stops     *prometheus.CounterVec
	purged    *prometheus.GaugeVec
	state     *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them on reg. Each
// element is distinguished by the "element" label.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_submitted_total",
				Help:      "Items accepted into the queue, by kind",
			},
			[]string{"element", "kind"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_rejected_total",
				Help:      "Items refused by the producer API, by reason",
			},
			[]string{"element", "reason"},
		),
		forwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_forwarded_total",
				Help:      "Items pushed downstream by the streaming task, by kind",
			},
			[]string{"element", "kind"},
		),
		stops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_stops_total",
				Help:      "Streaming task stops, by flow reason",
			},
			[]string{"element", "reason"},
		),
		purged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_purged",
				Help:      "Items discarded by the most recent flush",
			},
			[]string{"element"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Element state: 0 rejecting buffers, 1 started, 2 paused",
			},
			[]string{"element"},
		),
	}

	for _, col := range []prometheus.Collector{c.submitted, c.rejected, c.forwarded, c.stops, c.purged, c.state} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Submitted counts an item accepted by the producer API.
func (c *Collector) Submitted(element, kind string) {
	if c == nil {
		return
	}
	c.submitted.WithLabelValues(element, kind).Inc()
}

// Rejected counts an item refused by the producer API.
func (c *Collector) Rejected(element, reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(element, reason).Inc()
}

// Forwarded counts an item pushed downstream.
func (c *Collector) Forwarded(element, kind string) {
	if c == nil {
		return
	}
	c.forwarded.WithLabelValues(element, kind).Inc()
}

// Stopped counts a streaming task stop.
func (c *Collector) Stopped(element, reason string) {
	if c == nil {
		return
	}
	c.stops.WithLabelValues(element, reason).Inc()
}

// Purged records how many items the last flush discarded.
func (c *Collector) Purged(element string, n int) {
	if c == nil {
		return
	}
	c.purged.WithLabelValues(element).Set(float64(n))
}

// State records the element state.
func (c *Collector) State(element string, state int) {
	if c == nil {
		return
	}
	c.state.WithLabelValues(element).Set(float64(state))
}
