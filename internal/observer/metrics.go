package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for pipeline-level metrics
	pipelineLabels = []string{"pipeline"}
	// Labels for run outcomes
	runOutcomeLabels = []string{"pipeline", "status"}
	// Labels for per-record skips
	skipLabels = []string{"pipeline", "reason"}

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_runs_total",
			Help: "Total number of pipeline runs, labeled by outcome.",
		},
		runOutcomeLabels,
	)
	RunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_group_etl_run_duration_seconds",
			Help:    "Histogram of pipeline run durations, including scraping.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
		pipelineLabels,
	)
	MessagesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_messages_read_total",
			Help: "Total number of chat messages read from the message source.",
		},
		pipelineLabels,
	)
	EventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_events_applied_total",
			Help: "Total number of student events that mutated a ledger document, labeled by kind.",
		},
		[]string{"kind"},
	)
	RecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_records_skipped_total",
			Help: "Total number of records skipped without aborting the run, labeled by reason.",
		},
		skipLabels,
	)
	LeadsAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_group_etl_leads_admitted_total",
		Help: "Total number of sales leads newer than the stored watermark.",
	})
	UpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_upserts_total",
			Help: "Total number of upsert operations executed, labeled by collection.",
		},
		[]string{"collection"},
	)
	SheetWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_sheet_writes_total",
			Help: "Total number of spreadsheet cells or rows written, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)
	SchedulerSkippedTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wa_group_etl_scheduler_skipped_ticks_total",
		Help: "Total number of scheduler ticks dropped because a run was still in progress.",
	})
	WatermarkTimestampSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_group_etl_sales_watermark_timestamp_seconds",
		Help: "Unix time of the stored sales watermark after the last run.",
	})
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_group_etl_events_published_total",
			Help: "Total number of NATS publications, labeled by subject kind and status.",
		},
		[]string{"kind", "status"},
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "store", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_group_etl_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// InitMetrics toggles metric collection. Metrics are registered by promauto
// at package init; disabling only stops updates.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// Enabled reports whether metric updates are recorded.
func Enabled() bool {
	return metricsEnabled
}

// ObserveRun records the outcome and duration of one pipeline run.
func ObserveRun(pipeline string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	RunsTotal.WithLabelValues(sanitizeLabel(pipeline), statusOf(err)).Inc()
	RunDurationSeconds.WithLabelValues(sanitizeLabel(pipeline)).Observe(duration.Seconds())
}

// AddMessagesRead adds n to the messages read counter.
func AddMessagesRead(pipeline string, n int) {
	if !metricsEnabled || n <= 0 {
		return
	}
	MessagesReadTotal.WithLabelValues(sanitizeLabel(pipeline)).Add(float64(n))
}

// IncEventApplied counts one mutating student event.
func IncEventApplied(kind string) {
	if !metricsEnabled {
		return
	}
	EventsAppliedTotal.WithLabelValues(sanitizeLabel(kind)).Inc()
}

// IncRecordSkipped counts one skipped record.
func IncRecordSkipped(pipeline, reason string) {
	if !metricsEnabled {
		return
	}
	RecordsSkippedTotal.WithLabelValues(sanitizeLabel(pipeline), sanitizeLabel(reason)).Inc()
}

// AddLeadsAdmitted adds n admitted leads.
func AddLeadsAdmitted(n int) {
	if !metricsEnabled || n <= 0 {
		return
	}
	LeadsAdmittedTotal.Add(float64(n))
}

// IncUpsert counts one executed upsert.
func IncUpsert(collection string) {
	if !metricsEnabled {
		return
	}
	UpsertsTotal.WithLabelValues(sanitizeLabel(collection)).Inc()
}

// AddSheetWrites counts n spreadsheet writes of the given kind.
func AddSheetWrites(kind string, n int, err error) {
	if !metricsEnabled || (n <= 0 && err == nil) {
		return
	}
	if n <= 0 {
		n = 1
	}
	SheetWritesTotal.WithLabelValues(sanitizeLabel(kind), statusOf(err)).Add(float64(n))
}

// IncSchedulerSkippedTick counts one dropped scheduler tick.
func IncSchedulerSkippedTick() {
	if !metricsEnabled {
		return
	}
	SchedulerSkippedTicksTotal.Inc()
}

// SetWatermark records the stored sales watermark.
func SetWatermark(t time.Time) {
	if !metricsEnabled || t.IsZero() {
		return
	}
	WatermarkTimestampSeconds.Set(float64(t.Unix()))
}

// IncEventPublished counts one NATS publication attempt.
func IncEventPublished(kind string, err error) {
	if !metricsEnabled {
		return
	}
	EventsPublishedTotal.WithLabelValues(sanitizeLabel(kind), statusOf(err)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, store string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeLabel(store), statusOf(err)).Observe(duration.Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// sanitizeLabel ensures the label is valid or returns a default value.
func sanitizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "store unavailable"), strings.Contains(errStr, "duplicate"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "source unavailable"), strings.Contains(errStr, "browser"):
		return "source"
	case strings.Contains(errStr, "sheets"):
		return "sheets"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "invalid"):
		return "validation"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
