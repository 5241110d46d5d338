package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts chunk lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	built        prometheus.Counter
	buildFailed  prometheus.Counter
	drawn        prometheus.Counter
	drawFailed   prometheus.Counter
	removed      prometheus.Counter
	discarded    prometheus.Counter
	saveFailed   prometheus.Counter
	registrySize prometheus.Gauge
	ticks        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		built:       counter("chunks_built_total", "Chunks whose generation finished"),
		buildFailed: counter("chunk_build_failures_total", "Chunk generation errors"),
		drawn:       counter("chunks_drawn_total", "Draw operations that realized geometry"),
		drawFailed:  counter("chunk_draw_failures_total", "Draw errors"),
		removed:     counter("chunks_removed_total", "Chunks evicted from the registry"),
		discarded:   counter("chunks_discarded_total", "Unbuilt chunks dropped once out of range"),
		saveFailed:  counter("chunk_save_failures_total", "Save errors during eviction"),
		ticks:       counter("ticks_total", "Streaming ticks processed"),
		registrySize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "registry_chunks",
			Help:      "Chunk handles currently registered",
		}),
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func (m *Metrics) onBuild(err error) {
	if m == nil {
		return
	}
	if err != nil {
		inc(m.buildFailed)
		return
	}
	inc(m.built)
}

func (m *Metrics) onDraw(err error) {
	if m == nil {
		return
	}
	if err != nil {
		inc(m.drawFailed)
		return
	}
	inc(m.drawn)
}

func (m *Metrics) onRemove(saveErr error) {
	if m == nil {
		return
	}
	if saveErr != nil {
		inc(m.saveFailed)
	}
	inc(m.removed)
}

func (m *Metrics) onDiscard() {
	if m == nil {
		return
	}
	inc(m.discarded)
}

func (m *Metrics) onTick(registry int) {
	if m == nil {
		return
	}
	inc(m.ticks)
	m.registrySize.Set(float64(registry))
}
