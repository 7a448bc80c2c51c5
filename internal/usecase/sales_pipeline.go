package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/internal/planner"
	"gitlab.com/timkado/api/wa-group-etl/internal/sales"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/internal/timestamp"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// SalesStore is the part of the document store the sales pipeline uses.
type SalesStore interface {
	storage.WatermarkRepo
	storage.UpsertExecutor
}

// SalesPipeline extracts new leads from the sales group.
type SalesPipeline struct {
	messages  MessageSource
	sink      LeadSink
	publisher EventPublisher
	store     SalesStore
	planner   *planner.Planner

	labels       sales.Labels
	identifier   string
	group        string
	messageCount int
}

// NewSalesPipeline wires the sales pipeline. A nil publisher disables lead events.
func NewSalesPipeline(
	messages MessageSource,
	sink LeadSink,
	publisher EventPublisher,
	store SalesStore,
	plan *planner.Planner,
	labels sales.Labels,
	identifier, group string,
	messageCount int,
) *SalesPipeline {
	return &SalesPipeline{
		messages:     messages,
		sink:         sink,
		publisher:    publisher,
		store:        store,
		planner:      plan,
		labels:       labels,
		identifier:   identifier,
		group:        group,
		messageCount: messageCount,
	}
}

// RunOnce admits leads strictly newer than the stored watermark, appends them
// to the sales sheet and then advances the watermark. If the watermark
// upsert fails after the append, the next run appends the same leads again.
func (p *SalesPipeline) RunOnce(ctx context.Context) (RunReport, error) {
	log := logger.FromContext(ctx).With(zap.String("group", p.group))
	var report RunReport

	watermark, err := p.loadWatermark(ctx)
	if err != nil {
		return report, err
	}

	msgs, err := p.messages.ReadMessages(ctx, p.group, p.messageCount)
	if err != nil {
		return report, sourceError("read messages", err)
	}
	report.MessagesRead = len(msgs)
	observer.AddMessagesRead(DomainSales, len(msgs))

	res := sales.Filter(msgs, watermark, p.labels)
	for _, s := range res.Skips {
		p.recordSkip(log, &report, msgs[s.Index], s)
	}
	report.Leads = res.Leads
	log.Info("Sales batch filtered",
		zap.Int("messages", len(msgs)),
		zap.Int("already_seen", res.Seen),
		zap.Int("admitted", len(res.Leads)),
		zap.String("watermark", formatWatermark(watermark)),
	)

	if len(res.Leads) > 0 {
		n, err := p.sink.AppendLeads(ctx, res.Leads)
		report.SheetWrites = n
		if err != nil {
			return report, sourceError("append leads", err)
		}
		report.NewLeads = len(res.Leads)
		observer.AddLeadsAdmitted(len(res.Leads))
		p.publishLeads(ctx, log, res.Leads)
	}

	report.Plan = p.planner.PlanWatermark(p.identifier, watermark, res.NewWatermark)
	if len(report.Plan) > 0 {
		n, err := p.store.ApplyUpserts(ctx, report.Plan)
		report.Upserts = n
		if err != nil {
			return report, storeError("advance watermark", err)
		}
		observer.SetWatermark(res.NewWatermark)
		log.Info("Sales watermark advanced", zap.String("watermark", formatWatermark(res.NewWatermark)))
	}
	return report, nil
}

// loadWatermark returns the stored watermark, or the zero time when none
// was ever stored. A stored value that does not parse aborts the run.
func (p *SalesPipeline) loadWatermark(ctx context.Context) (time.Time, error) {
	wm, err := p.store.FindWatermark(ctx, p.identifier)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, storeError("find watermark", err)
	}
	t, err := timestamp.ParseWatermark(wm.LastRunTimestamp)
	if err != nil {
		return time.Time{}, apperrors.NewFatal(err, "stored watermark %q for %s", wm.LastRunTimestamp, p.identifier)
	}
	return t, nil
}

func (p *SalesPipeline) publishLeads(ctx context.Context, log *zap.Logger, leads []model.Lead) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishLeads(ctx, leads); err != nil {
		log.Warn("Failed to publish lead events", zap.Int("leads", len(leads)), zap.Error(err))
	}
}

func (p *SalesPipeline) recordSkip(log *zap.Logger, report *RunReport, msg model.RawMessage, s sales.Skip) {
	reason := apperrors.SkipReason(s.Err)
	report.skip(reason)
	observer.IncRecordSkipped(DomainSales, reason)

	fields := []zap.Field{
		zap.Int("index", s.Index),
		zap.String("sender", msg.Sender),
		zap.String("timestamp", msg.Timestamp),
		zap.String("reason", reason),
		zap.Error(s.Err),
	}
	// Ordinary chatter in the group never carries the labels.
	if errors.Is(s.Err, apperrors.ErrExtractionMismatch) {
		log.Debug("Skipping unlabeled sales message", fields...)
		return
	}
	log.Warn("Skipping sales message", fields...)
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return timestamp.FormatWatermark(t)
}
