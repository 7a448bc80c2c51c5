package usecase

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/internal/runctx"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

// Run log process names.
const (
	ProcessStudents = "student_stats_update"
	ProcessSales    = "sales_lead_extraction"
)

// Pipeline is one domain of the reconciliation.
type Pipeline interface {
	RunOnce(ctx context.Context) (RunReport, error)
}

// Result holds the reports of one runner invocation.
type Result struct {
	Students RunReport `json:"students" yaml:"students"`
	Sales    RunReport `json:"sales" yaml:"sales"`
}

// Runner runs both pipelines once and records one run log entry per domain.
type Runner struct {
	students  Pipeline
	sales     Pipeline
	runLogs   storage.RunLogRepo
	publisher EventPublisher

	now   func() time.Time
	newID func() string

	mu   sync.RWMutex
	last map[string]model.RunLogEntry
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerClock sets the clock used for run timing.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithRunIDs sets the run ID generator.
func WithRunIDs(newID func() string) RunnerOption {
	return func(r *Runner) { r.newID = newID }
}

// NewRunner creates a runner. A nil pipeline is not run; a nil publisher
// disables run log events.
func NewRunner(students, sales Pipeline, runLogs storage.RunLogRepo, publisher EventPublisher, opts ...RunnerOption) *Runner {
	r := &Runner{
		students:  students,
		sales:     sales,
		runLogs:   runLogs,
		publisher: publisher,
		now:       utils.Now,
		newID:     uuid.NewString,
		last:      make(map[string]model.RunLogEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce runs the student pipeline and then the sales pipeline. A failure
// in one domain does not prevent the other from running. Connectivity
// failures are returned as retryable errors; the caller decides whether to
// run again.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error
	if r.students != nil {
		report, err := r.runDomain(ctx, DomainStudents, r.students)
		res.Students = report
		errs = append(errs, err)
	}
	if r.sales != nil {
		report, err := r.runDomain(ctx, DomainSales, r.sales)
		res.Sales = report
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (r *Runner) runDomain(ctx context.Context, domain string, p Pipeline) (RunReport, error) {
	runID := r.newID()
	ctx = runctx.WithDomain(runctx.WithRunID(ctx, runID), domain)
	log := logger.FromContext(ctx)

	start := r.now()
	var report RunReport
	err := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		var err error
		report, err = p.RunOnce(ctx)
		return err
	})(ctx)
	elapsed := r.now().Sub(start)

	entry := newRunLogEntry(runID, domain, start, elapsed, report, err)
	r.record(ctx, log, entry)
	observer.ObserveRun(domain, elapsed, err)

	if err != nil {
		log.Error("Pipeline run failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		if apperrors.IsFatal(err) {
			return report, err
		}
		return report, apperrors.NewRetryable(err, "%s run %s", domain, runID)
	}
	log.Info("Pipeline run completed", zap.Duration("elapsed", elapsed))
	return report, nil
}

// record stores and announces the entry. Failures here never change the
// outcome of the run.
func (r *Runner) record(ctx context.Context, log *zap.Logger, entry model.RunLogEntry) {
	r.mu.Lock()
	r.last[entry.Source] = entry
	r.mu.Unlock()

	if r.runLogs != nil {
		if err := r.runLogs.SaveRunLog(ctx, entry); err != nil {
			log.Warn("Failed to save run log", zap.Error(err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishRunLog(ctx, entry); err != nil {
			log.Warn("Failed to publish run log", zap.Error(err))
		}
	}
}

func newRunLogEntry(runID, domain string, start time.Time, elapsed time.Duration, report RunReport, err error) model.RunLogEntry {
	source, process := model.RunSourceStudents, ProcessStudents
	if domain == DomainSales {
		source, process = model.RunSourceSales, ProcessSales
	}
	start = start.UTC()
	entry := model.RunLogEntry{
		ID:           runID,
		Source:       source,
		LogLevel:     model.LogLevelInfo,
		Timestamp:    start,
		MessagesRead: report.MessagesRead,
		Applied:      report.Applied,
		Skipped:      report.Skipped,
		Upserts:      report.Upserts,
		SheetWrites:  report.SheetWrites,
		NewLeads:     report.NewLeads,
		TotalRunTime: math.Round(elapsed.Seconds()*100) / 100,
		Success:      err == nil,
		Metadata: map[string]interface{}{
			"process":  process,
			"run_date": start.Format("2006-01-02"),
			"run_time": start.Format("15:04:05"),
			"run_id":   runID,
		},
	}
	if len(report.SkipReasons) > 0 {
		entry.Metadata["skip_reasons"] = report.SkipReasons
	}
	if err != nil {
		entry.LogLevel = model.LogLevelError
		entry.ErrorMessage = err.Error()
	}
	return entry
}

// LastRuns returns the latest run log entry of each domain, ordered by source.
func (r *Runner) LastRuns() []model.RunLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.RunLogEntry, 0, len(r.last))
	for _, e := range r.last {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// ServeHTTP reports the latest runs as JSON.
func (r *Runner) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{
		"runs": r.LastRuns(),
	})
}
