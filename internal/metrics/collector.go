package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/config"
)

type Collector struct {
	config   *config.MimirConfig
	registry *prometheus.Registry
	client   *http.Client
	logger   *zap.Logger

	// Import
	admissionsTotal *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec

	// Validation
	validationsTotal *prometheus.CounterVec
	smtpProbesTotal  *prometheus.CounterVec
	smtpProbeSeconds *prometheus.HistogramVec
	endpointHealthy  *prometheus.GaugeVec

	// Export
	exportsTotal       *prometheus.CounterVec
	exportRecordsTotal *prometheus.CounterVec

	// Jobs
	jobsTotal               *prometheus.CounterVec
	jobDuration             *prometheus.HistogramVec
	progressPublishFailures *prometheus.CounterVec

	// System Health Metrics
	queueSize         *prometheus.GaugeVec
	workerUtilization *prometheus.GaugeVec
}

// NewCollector registers every metric on its own registry so several
// collectors can coexist in one process.
func NewCollector(cfg config.MimirConfig, logger *zap.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		config:   &cfg,
		registry: reg,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,

		admissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_import_admissions_total",
				Help: "Addresses admitted by the import pipeline",
			},
			[]string{"policy", "outcome"},
		),

		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_import_rejections_total",
				Help: "Import lines rejected, by reason",
			},
			[]string{"reason"},
		),

		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_validations_total",
				Help: "Records validated, by method and resulting state",
			},
			[]string{"method", "state"},
		),

		smtpProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_smtp_probes_total",
				Help: "SMTP RCPT probes, by endpoint host and result",
			},
			[]string{"host", "result"},
		),

		smtpProbeSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emaildb_smtp_probe_duration_seconds",
				Help:    "Duration of SMTP RCPT probes in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"host"},
		),

		endpointHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "emaildb_smtp_endpoint_healthy",
				Help: "Whether the last health check of an endpoint succeeded (1) or not (0)",
			},
			[]string{"endpoint_id", "host"},
		),

		exportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_exports_total",
				Help: "Finished exports, by file kind",
			},
			[]string{"kind"},
		),

		exportRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_export_records_total",
				Help: "Records written to export artifacts",
			},
			[]string{"kind"},
		),

		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_jobs_total",
				Help: "Jobs finished by the workers, by type and status",
			},
			[]string{"type", "status"},
		),

		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emaildb_job_duration_seconds",
				Help:    "Wall time of a job run in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"type"},
		),

		progressPublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaildb_progress_publish_failures_total",
				Help: "Progress events that could not be published",
			},
			[]string{"job_type"},
		),

		queueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "emaildb_queue_size",
				Help: "Jobs waiting in the queue",
			},
			[]string{"worker_pool"},
		),

		workerUtilization: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "emaildb_worker_utilization",
				Help: "Share of workers busy with a job",
			},
			[]string{"worker_pool"},
		),
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

func (c *Collector) RecordAdmission(policy, outcome string) {
	c.admissionsTotal.With(prometheus.Labels{"policy": policy, "outcome": outcome}).Inc()
}

func (c *Collector) RecordRejection(reason string) {
	c.rejectionsTotal.With(prometheus.Labels{"reason": reason}).Inc()
}

func (c *Collector) RecordValidation(method, state string) {
	c.validationsTotal.With(prometheus.Labels{"method": method, "state": state}).Inc()
}

func (c *Collector) RecordExport(kind string, records int) {
	c.exportsTotal.With(prometheus.Labels{"kind": kind}).Inc()
	c.exportRecordsTotal.With(prometheus.Labels{"kind": kind}).Add(float64(records))
}

func (c *Collector) RecordPublishFailure(jobType string) {
	c.progressPublishFailures.With(prometheus.Labels{"job_type": jobType}).Inc()
}

func (c *Collector) ObserveSMTPProbe(host, result string, d time.Duration) {
	c.smtpProbesTotal.With(prometheus.Labels{"host": host, "result": result}).Inc()
	c.smtpProbeSeconds.With(prometheus.Labels{"host": host}).Observe(d.Seconds())
}

func (c *Collector) RecordEndpointHealth(endpointID, host string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.endpointHealthy.With(prometheus.Labels{"endpoint_id": endpointID, "host": host}).Set(value)
}

func (c *Collector) RecordJob(jobType, status string, d time.Duration) {
	c.jobsTotal.With(prometheus.Labels{"type": jobType, "status": status}).Inc()
	c.jobDuration.With(prometheus.Labels{"type": jobType}).Observe(d.Seconds())
}

// RecordWorkerMetrics records worker pool metrics
func (c *Collector) RecordWorkerMetrics(poolName string, queueSize int, utilization float64) {
	c.queueSize.With(prometheus.Labels{
		"worker_pool": poolName,
	}).Set(float64(queueSize))

	c.workerUtilization.With(prometheus.Labels{
		"worker_pool": poolName,
	}).Set(utilization)
}
