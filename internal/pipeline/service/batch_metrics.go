package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/royaltyledger/internal/pipeline/domain"
)

// batchMetrics is the per-invocation registry pushed to the Pushgateway
// when a run ends.
type batchMetrics struct {
	registry       *prometheus.Registry
	files          *prometheus.GaugeVec
	rows           *prometheus.GaugeVec
	written        prometheus.Gauge
	alreadyPresent prometheus.Gauge
	parseFailures  prometheus.Gauge
	approximate    prometheus.Gauge
	duration       prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

func newBatchMetrics() *batchMetrics {
	m := &batchMetrics{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_files",
			Help: "Files handled by the last ingest run, by status.",
		}, []string{"status"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_rows",
			Help: "Rows classified by the last ingest run, by class.",
		}, []string{"class"}),
		written: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_events_written",
			Help: "Events inserted by the last ingest run.",
		}),
		alreadyPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_events_already_present",
			Help: "Events of the last ingest run that were already stored.",
		}),
		parseFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_amount_parse_failures",
			Help: "Amounts recorded as zero because they could not be parsed.",
		}),
		approximate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_fx_approximate",
			Help: "Events converted with a static fallback rate.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_duration_seconds",
			Help: "Wall time of the last ingest run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "royaltyledger_ingest_last_success_timestamp_seconds",
			Help: "Unix time of the last run without failed files.",
		}),
	}
	m.registry.MustRegister(
		m.files, m.rows, m.written, m.alreadyPresent,
		m.parseFailures, m.approximate, m.duration, m.lastSuccess,
	)
	return m
}

func (m *batchMetrics) observe(r *domain.Report) {
	m.files.WithLabelValues(string(domain.FileOK)).Set(float64(r.FilesScanned - r.FilesFailed - r.FilesSkipped))
	m.files.WithLabelValues(string(domain.FileSkipped)).Set(float64(r.FilesSkipped))
	m.files.WithLabelValues(string(domain.FileFailed)).Set(float64(r.FilesFailed))
	m.rows.WithLabelValues("blank").Set(float64(r.Rows.Blank))
	m.rows.WithLabelValues("noise").Set(float64(r.Rows.Noise))
	m.rows.WithLabelValues("transaction").Set(float64(r.Rows.Transaction))
	m.rows.WithLabelValues("malformed").Set(float64(r.Rows.Malformed))
	m.written.Set(float64(r.Written))
	m.alreadyPresent.Set(float64(r.AlreadyPresent))
	m.parseFailures.Set(float64(r.AmountParseFailures))
	m.approximate.Set(float64(r.FXApproximate))
	m.duration.Set(r.FinishedAt.Sub(r.StartedAt).Seconds())
	if !r.Failed() && r.Status != domain.RunAborted {
		m.lastSuccess.Set(float64(r.FinishedAt.Unix()))
	}
}
