package api

import (
	"github.com/atlas-quant/optopus-engine/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
)

// engineCollector is a prometheus.Collector that reads the Engine's counters
// on every scrape rather than being pushed to on every increment — the
// Engine has no Prometheus dependency of its own, only a plain Metrics
// struct guarded by its own mutex.
type engineCollector struct {
	eng *engine.Engine

	loopIterations         *prometheus.Desc
	strategiesOpened       *prometheus.Desc
	strategiesClosed       *prometheus.Desc
	reconciliationWarnings *prometheus.Desc
	lastLoopTimestamp      *prometheus.Desc
	engineState            *prometheus.Desc
}

func newEngineCollector(eng *engine.Engine) *engineCollector {
	return &engineCollector{
		eng: eng,
		loopIterations: prometheus.NewDesc(
			"optopus_loop_iterations_total", "Total number of completed main loop iterations.", nil, nil),
		strategiesOpened: prometheus.NewDesc(
			"optopus_strategies_opened_total", "Total number of strategies transitioned to opened by reconciliation.", nil, nil),
		strategiesClosed: prometheus.NewDesc(
			"optopus_strategies_closed_total", "Total number of strategies transitioned to closed by reconciliation.", nil, nil),
		reconciliationWarnings: prometheus.NewDesc(
			"optopus_reconciliation_warnings_total", "Engine ReconciliationWarnings counter; the reconciliation pass does not increment it, so it reports 0.", nil, nil),
		lastLoopTimestamp: prometheus.NewDesc(
			"optopus_last_loop_timestamp_seconds", "Unix timestamp of the most recently completed loop iteration.", nil, nil),
		engineState: prometheus.NewDesc(
			"optopus_engine_state", "Current engine lifecycle state (0=Stopped, 1=Starting, 2=Running, 3=Stopping).", nil, nil),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.loopIterations
	ch <- c.strategiesOpened
	ch <- c.strategiesClosed
	ch <- c.reconciliationWarnings
	ch <- c.lastLoopTimestamp
	ch <- c.engineState
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.eng.GetMetrics()
	ch <- prometheus.MustNewConstMetric(c.loopIterations, prometheus.CounterValue, float64(m.LoopIterations))
	ch <- prometheus.MustNewConstMetric(c.strategiesOpened, prometheus.CounterValue, float64(m.StrategiesOpened))
	ch <- prometheus.MustNewConstMetric(c.strategiesClosed, prometheus.CounterValue, float64(m.StrategiesClosed))
	ch <- prometheus.MustNewConstMetric(c.reconciliationWarnings, prometheus.CounterValue, float64(m.ReconciliationWarnings))
	if !m.LastLoopAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastLoopTimestamp, prometheus.GaugeValue, float64(m.LastLoopAt.Unix()))
	}
	ch <- prometheus.MustNewConstMetric(c.engineState, prometheus.GaugeValue, float64(c.eng.State()))
}
