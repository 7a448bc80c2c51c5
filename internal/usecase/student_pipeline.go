package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/classify"
	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/ledger"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/observer"
	"gitlab.com/timkado/api/wa-group-etl/internal/planner"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/pkg/logger"
)

// StudentStore is the part of the document store the student pipeline uses.
type StudentStore interface {
	storage.StudentRepo
	storage.UpsertExecutor
}

// StudentPipeline reconciles one batch of student group messages.
type StudentPipeline struct {
	messages   MessageSource
	roster     RosterSource
	sheet      RosterWriter
	store      StudentStore
	classifier *classify.Classifier
	reconciler *ledger.Reconciler
	planner    *planner.Planner

	group        string
	messageCount int
}

// NewStudentPipeline wires the student pipeline.
func NewStudentPipeline(
	messages MessageSource,
	roster RosterSource,
	sheet RosterWriter,
	store StudentStore,
	classifier *classify.Classifier,
	reconciler *ledger.Reconciler,
	plan *planner.Planner,
	group string,
	messageCount int,
) *StudentPipeline {
	return &StudentPipeline{
		messages:     messages,
		roster:       roster,
		sheet:        sheet,
		store:        store,
		classifier:   classifier,
		reconciler:   reconciler,
		planner:      plan,
		group:        group,
		messageCount: messageCount,
	}
}

// RunOnce extracts, reconciles and loads one batch. Record-level problems
// are skipped; source, sheet and store failures abort the run and are
// returned with the counts reached so far.
//
// Roster cells are written before the documents. A failed upsert leaves the
// owed updates in place for the next run, and rewriting an equal cell is a
// no-op.
func (p *StudentPipeline) RunOnce(ctx context.Context) (RunReport, error) {
	log := logger.FromContext(ctx).With(zap.String("group", p.group))
	var report RunReport

	entries, err := p.roster.LoadRoster(ctx)
	if err != nil {
		return report, sourceError("load roster", err)
	}
	roster := model.NewRoster(entries)

	msgs, err := p.messages.ReadMessages(ctx, p.group, p.messageCount)
	if err != nil {
		return report, sourceError("read messages", err)
	}
	report.MessagesRead = len(msgs)
	observer.AddMessagesRead(DomainStudents, len(msgs))
	log.Info("Student batch extracted", zap.Int("messages", len(msgs)), zap.Int("roster", roster.Len()))

	session := p.reconciler.NewSession()
	for i, msg := range msgs {
		if err := p.applyMessage(ctx, session, roster, msg, &report); err != nil {
			if apperrors.IsRunAbort(err) {
				return report, err
			}
			p.recordSkip(log, &report, i, msg, err)
		}
	}

	docs := session.Mutated()
	report.SheetUpdates = session.SheetUpdates()
	report.Plan = p.planner.PlanStudents(docs)

	if len(report.SheetUpdates) > 0 {
		n, err := p.sheet.ApplyLastPractice(ctx, report.SheetUpdates)
		report.SheetWrites = n
		if err != nil {
			return report, sourceError("update roster sheet", err)
		}
	}

	if len(report.Plan) > 0 {
		n, err := p.store.ApplyUpserts(ctx, report.Plan)
		report.Upserts = n
		if err != nil {
			return report, storeError("apply student upserts", err)
		}
	}

	log.Info("Student batch loaded",
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("upserts", report.Upserts),
		zap.Int("sheet_writes", report.SheetWrites),
	)
	return report, nil
}

// applyMessage resolves, classifies and reconciles one message.
func (p *StudentPipeline) applyMessage(ctx context.Context, session *ledger.Session, roster *model.Roster, msg model.RawMessage, report *RunReport) error {
	entry, ok := roster.Lookup(msg.Sender)
	if !ok {
		return fmt.Errorf("%w: sender %q", apperrors.ErrUnknownParticipant, msg.Sender)
	}
	ev, ok := p.classifier.Event(msg, entry.CurrentLesson)
	if !ok {
		return nil
	}
	uniqID, err := identity.ComputeUniqID(entry.Phone, entry.Name)
	if err != nil {
		return err
	}
	if !session.Known(uniqID) {
		stored, err := p.store.FindStudent(ctx, uniqID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			stored = nil
		case err != nil:
			return storeError("find student", err)
		}
		session.Seed(uniqID, stored)
	}

	dec, err := session.Apply(entry, ev)
	if err != nil {
		return err
	}
	if dec.Mutated {
		report.Applied++
		observer.IncEventApplied(string(ev.Kind))
	}
	return nil
}

func (p *StudentPipeline) recordSkip(log *zap.Logger, report *RunReport, index int, msg model.RawMessage, err error) {
	reason := apperrors.SkipReason(err)
	report.skip(reason)
	observer.IncRecordSkipped(DomainStudents, reason)

	fields := []zap.Field{
		zap.Int("index", index),
		zap.String("sender", msg.Sender),
		zap.String("timestamp", msg.Timestamp),
		zap.String("reason", reason),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, apperrors.ErrUnknownParticipant):
		log.Info("Skipping message from unknown participant", fields...)
	case apperrors.IsSkippable(err):
		log.Warn("Skipping student message", fields...)
	default:
		log.Error("Skipping student message after unexpected error", fields...)
	}
}

// sourceError marks err as a source failure unless it already is one.
func sourceError(op string, err error) error {
	if errors.Is(err, apperrors.ErrSourceUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperrors.ErrSourceUnavailable, op, err)
}

// storeError marks err as a store failure unless it already is one.
func storeError(op string, err error) error {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperrors.ErrStoreUnavailable, op, err)
}
