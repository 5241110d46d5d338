package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports queue occupancy. A nil *Metrics is valid and records nothing.
type Metrics struct {
	active    prometheus.Gauge
	waiting   prometheus.Gauge
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
}

// NewMetrics builds the queue collectors. A nil registerer creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "active_tasks",
			Help:      "Tasks currently holding a slot",
		}),
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "waiting_tasks",
			Help:      "Tasks waiting for a slot",
		}),
		submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "submitted_total",
			Help:      "Tasks accepted by Submit",
		}),
		completed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "completed_total",
			Help:      "Tasks that returned without error",
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "failed_total",
			Help:      "Tasks that returned an error or panicked",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "taskqueue",
			Name:      "dropped_total",
			Help:      "Waiting tasks discarded by Close",
		}),
	}
}

func (m *Metrics) submit(active, waiting int) {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.set(active, waiting)
}

func (m *Metrics) finish(failed bool, active, waiting int) {
	if m == nil {
		return
	}
	if failed {
		m.failed.Inc()
	} else {
		m.completed.Inc()
	}
	m.set(active, waiting)
}

func (m *Metrics) drop(n, active int) {
	if m == nil {
		return
	}
	m.dropped.Add(float64(n))
	m.set(active, 0)
}

// set is called with the queue lock held so gauge updates stay ordered.
func (m *Metrics) set(active, waiting int) {
	if m == nil {
		return
	}
	m.active.Set(float64(active))
	m.waiting.Set(float64(waiting))
}
