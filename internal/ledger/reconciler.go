// Package ledger reconciles classified student events against stored
// student documents. It performs no I/O.
package ledger

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/timestamp"
)

// Decision is the result of applying one event.
type Decision struct {
	// Document is the resulting state. When Mutated is false it is the input
	// state unchanged (or a fresh, unsaved document for a new participant).
	Document model.StudentDocument
	Mutated  bool
	// SheetUpdate is set only when last_practice_timedate advanced.
	SheetUpdate *model.SheetUpdate
}

// Reconciler applies events to student documents.
type Reconciler struct {
	order LessonOrder
	now   func() time.Time
}

// NewReconciler creates a Reconciler. A nil order defaults to NumericOrder,
// a nil clock to time.Now in UTC.
func NewReconciler(order LessonOrder, now func() time.Time) *Reconciler {
	if order == nil {
		order = NumericOrder
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{order: order, now: now}
}

// Apply reconciles one event for the participant described by entry.
// existing is nil when the store has no document for the participant.
// Record-level problems are returned as skippable apperrors.
func (r *Reconciler) Apply(entry model.RosterEntry, existing *model.StudentDocument, ev model.Event) (Decision, error) {
	if !ev.Kind.Valid() {
		return Decision{}, fmt.Errorf("%w: unknown event kind %q", apperrors.ErrValidation, ev.Kind)
	}
	uniqID, err := identity.ComputeUniqID(entry.Phone, entry.Name)
	if err != nil {
		return Decision{}, err
	}
	evTime, err := timestamp.ParseDisplay(ev.Timestamp)
	if err != nil {
		return Decision{}, err
	}

	var doc model.StudentDocument
	if existing != nil {
		doc = existing.Clone()
	} else {
		doc = model.StudentDocument{
			UniqID:        uniqID,
			PhoneNumber:   entry.Phone,
			Name:          entry.Name,
			CurrentLesson: entry.CurrentLesson,
			Lessons:       []model.LessonRecord{},
			CreatedAt:     r.now(),
		}
	}
	unchanged := doc.Clone()

	// Dedup gate: only the field matching the event kind is consulted.
	// Stored values may predate the display format, so they are read leniently.
	stored := doc.LastMessageTimedate
	if ev.Kind == model.EventPractice {
		stored = doc.LastPracticeTimedate
	}
	if stored != "" {
		storedTime, err := timestamp.ParseScraped(stored)
		if err != nil {
			return Decision{}, fmt.Errorf("stored timestamp of %s: %w", uniqID, err)
		}
		if timestamp.Compare(evTime, storedTime) != timestamp.After {
			return Decision{Document: unchanged}, nil
		}
	}

	doc.PhoneNumber = entry.Phone
	doc.Name = entry.Name
	doc.CurrentLesson = r.targetLesson(doc.CurrentLesson, ev.LessonHint)

	display := timestamp.FormatDisplay(evTime)
	rec := r.lessonRecord(&doc, entry.Teacher, display)

	var sheet *model.SheetUpdate
	switch ev.Kind {
	case model.EventPractice:
		if rec != nil {
			rec.PracticeCount++
			if advances(rec.LastPractice, evTime) {
				rec.LastPractice = display
			}
		}
		doc.LastPracticeTimedate = display
		sheet = &model.SheetUpdate{Phone: entry.Phone, Column: model.LastPracticeColumn, Value: display}
	case model.EventMessage:
		if rec != nil {
			rec.MessageCount++
		}
		doc.LastMessageTimedate = display
	}
	doc.UpdatedAt = r.now()

	return Decision{Document: doc, Mutated: true, SheetUpdate: sheet}, nil
}

// targetLesson advances current to hint when hint is strictly newer.
// An empty current lesson accepts any hint.
func (r *Reconciler) targetLesson(current, hint string) string {
	if hint == "" || hint == current {
		return current
	}
	if current == "" {
		return hint
	}
	if cmp, ok := r.order(hint, current); ok && cmp > 0 {
		return hint
	}
	return current
}

// lessonRecord returns the record for the document's current lesson,
// appending one when the lesson has not been reached before. It returns nil
// when no lesson is known at all.
func (r *Reconciler) lessonRecord(doc *model.StudentDocument, teacher, firstPractice string) *model.LessonRecord {
	if doc.CurrentLesson == "" {
		return nil
	}
	if i := doc.LessonIndex(doc.CurrentLesson); i >= 0 {
		return &doc.Lessons[i]
	}
	doc.Lessons = append(doc.Lessons, model.LessonRecord{
		Lesson:        doc.CurrentLesson,
		Teacher:       teacher,
		FirstPractice: firstPractice,
	})
	return &doc.Lessons[len(doc.Lessons)-1]
}

// advances reports whether t is after the stored display value. Empty or
// unreadable stored values are replaced.
func advances(stored string, t time.Time) bool {
	if stored == "" {
		return true
	}
	st, err := timestamp.ParseScraped(stored)
	if err != nil {
		return true
	}
	return t.After(st)
}
