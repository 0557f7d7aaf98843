// Package metrics exposes prometheus gauges and counters for the
// precacher and writer engines. Instrumentation is optional: a nil *Set
// disables every call below without the call sites needing to branch on
// more than a single nil check.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set groups the instruments for one Precacher or Writer instance.
type Set struct {
	UsedBytes   prometheus.Gauge
	QueueDepth  prometheus.Gauge
	QueuedBytes prometheus.Gauge
	Dropped     prometheus.Counter
	Served      prometheus.Counter
	Flushed     prometheus.Counter
}

// NewPrecacheSet registers the gauges/counters used by a Precacher under
// name, a caller-chosen identifier (e.g. "input", "ground_truth").
func NewPrecacheSet(reg prometheus.Registerer, name string) *Set {
	s := &Set{
		UsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evalpipe", Subsystem: "precache", Name: "used_bytes",
			ConstLabels: prometheus.Labels{"stream": name},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evalpipe", Subsystem: "precache", Name: "queue_depth",
			ConstLabels: prometheus.Labels{"stream": name},
		}),
		Served: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evalpipe", Subsystem: "precache", Name: "served_total",
			ConstLabels: prometheus.Labels{"stream": name},
		}),
		Flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evalpipe", Subsystem: "precache", Name: "flushed_total",
			ConstLabels: prometheus.Labels{"stream": name},
		}),
	}
	if reg != nil {
		reg.MustRegister(s.UsedBytes, s.QueueDepth, s.Served, s.Flushed)
	}
	return s
}

// NewWriterSet registers the gauges/counters used by a Writer.
func NewWriterSet(reg prometheus.Registerer) *Set {
	s := &Set{
		QueuedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evalpipe", Subsystem: "writer", Name: "queued_bytes",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "evalpipe", Subsystem: "writer", Name: "queue_depth",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evalpipe", Subsystem: "writer", Name: "dropped_total",
		}),
		Served: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "evalpipe", Subsystem: "writer", Name: "sunk_total",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.QueuedBytes, s.QueueDepth, s.Dropped, s.Served)
	}
	return s
}

// gauge/counter helpers tolerate a nil Set or a nil instrument so engine
// code can call them unconditionally.

func (s *Set) SetUsedBytes(v float64) {
	if s != nil && s.UsedBytes != nil {
		s.UsedBytes.Set(v)
	}
}

func (s *Set) SetQueueDepth(v float64) {
	if s != nil && s.QueueDepth != nil {
		s.QueueDepth.Set(v)
	}
}

func (s *Set) SetQueuedBytes(v float64) {
	if s != nil && s.QueuedBytes != nil {
		s.QueuedBytes.Set(v)
	}
}

func (s *Set) IncDropped() {
	if s != nil && s.Dropped != nil {
		s.Dropped.Inc()
	}
}

func (s *Set) IncServed() {
	if s != nil && s.Served != nil {
		s.Served.Inc()
	}
}

func (s *Set) IncFlushed() {
	if s != nil && s.Flushed != nil {
		s.Flushed.Inc()
	}
}
