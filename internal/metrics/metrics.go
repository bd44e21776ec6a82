// Package metrics collects per-run Prometheus metrics.
//
// Runs are short-lived, so nothing is served over HTTP. Each run gets its
// own registry and the CLI writes it out in the node_exporter textfile
// format when --metrics-file is set. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	reg *prometheus.Registry

	setpoints    *prometheus.CounterVec
	samples      *prometheus.CounterVec
	rows         prometheus.Counter
	startupPolls prometheus.Gauge
	daqTotal     prometheus.Gauge
	deviceErrors *prometheus.CounterVec
	runDuration  prometheus.Histogram
	runStatus    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		setpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dersweep_setpoints_applied_total",
			Help: "Setpoints pushed to a device, by sweep.",
		}, []string{"sweep"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dersweep_samples_total",
			Help: "Forced DAQ captures, by how W_TOTAL was derived.",
		}, []string{"source"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dersweep_summary_rows_total",
			Help: "Summary rows recorded.",
		}),
		startupPolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dersweep_startup_polls",
			Help: "Power polls spent waiting for the inverter to start.",
		}),
		daqTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dersweep_daq_total_watts",
			Help: "Last derived W_TOTAL.",
		}),
		deviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dersweep_errors_total",
			Help: "Run errors by error code.",
		}, []string{"code"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dersweep_run_duration_seconds",
			Help:    "Wall time of a run from setup to finalize.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		runStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dersweep_run_status",
			Help: "1 for the final status of the run, by procedure.",
		}, []string{"procedure", "status"}),
	}
	m.reg.MustRegister(m.setpoints, m.samples, m.rows, m.startupPolls,
		m.daqTotal, m.deviceErrors, m.runDuration, m.runStatus)
	return m
}

// Registry exposes the run's registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SetpointApplied(sweep string) {
	if m == nil {
		return
	}
	m.setpoints.WithLabelValues(sweep).Inc()
}

func (m *Metrics) SampleCaptured(source string, total float64) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(source).Inc()
	m.daqTotal.Set(total)
}

func (m *Metrics) RowRecorded() {
	if m == nil {
		return
	}
	m.rows.Inc()
}

func (m *Metrics) StartupPolls(n int) {
	if m == nil {
		return
	}
	m.startupPolls.Set(float64(n))
}

func (m *Metrics) Error(code string) {
	if m == nil {
		return
	}
	m.deviceErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) RunFinished(procedure, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.Observe(seconds)
	m.runStatus.WithLabelValues(procedure, status).Set(1)
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
