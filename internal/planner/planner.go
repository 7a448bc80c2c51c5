// Package planner turns reconciliation results into idempotent upsert
// operations. It performs no I/O.
package planner

import (
	"time"

	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/timestamp"
)

const (
	DefaultStudentsCollection   = "student_stats"
	DefaultWatermarksCollection = "last_run_timestamp"
)

// Field names shared with the store adapters.
const (
	FieldUniqID               = "uniq_id"
	FieldIdentifier           = "identifier"
	FieldPhoneNumber          = "phone_number"
	FieldName                 = "name"
	FieldCurrentLesson        = "current_lesson"
	FieldLastMessageTimedate  = "last_message_timedate"
	FieldLastPracticeTimedate = "last_practice_timedate"
	FieldLessons              = "lessons"
	FieldTotalMessages        = "total_messages"
	FieldLastRunTimestamp     = "last_run_timestamp"
	FieldCreatedAt            = "created_at"
	FieldUpdatedAt            = "updated_at"
)

// Planner builds upsert operations for the configured collections.
type Planner struct {
	students   string
	watermarks string
	now        func() time.Time
}

// Option customizes a Planner.
type Option func(*Planner)

// WithCollections overrides the target collection names. Empty values keep the default.
func WithCollections(students, watermarks string) Option {
	return func(p *Planner) {
		if students != "" {
			p.students = students
		}
		if watermarks != "" {
			p.watermarks = watermarks
		}
	}
}

// WithClock sets the clock used for updated_at and created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		students:   DefaultStudentsCollection,
		watermarks: DefaultWatermarksCollection,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanStudents emits one upsert per mutated document, in input order.
// created_at and the frozen total_messages counter are only written on insert.
func (p *Planner) PlanStudents(docs []model.StudentDocument) []model.UpsertOp {
	ops := make([]model.UpsertOp, 0, len(docs))
	for _, doc := range docs {
		set := map[string]interface{}{
			FieldPhoneNumber:   doc.PhoneNumber,
			FieldName:          doc.Name,
			FieldCurrentLesson: doc.CurrentLesson,
			FieldLessons:       lessonsOrEmpty(doc.Lessons),
			FieldUpdatedAt:     p.updatedAt(doc.UpdatedAt),
		}
		if doc.LastMessageTimedate != "" {
			set[FieldLastMessageTimedate] = doc.LastMessageTimedate
		}
		if doc.LastPracticeTimedate != "" {
			set[FieldLastPracticeTimedate] = doc.LastPracticeTimedate
		}
		createdAt := doc.CreatedAt
		if createdAt.IsZero() {
			createdAt = p.now()
		}
		ops = append(ops, model.UpsertOp{
			Collection: p.students,
			Filter:     model.Filter{Field: FieldUniqID, Value: doc.UniqID},
			Set:        set,
			SetOnInsert: map[string]interface{}{
				FieldUniqID:        doc.UniqID,
				FieldTotalMessages: doc.TotalMessages,
				FieldCreatedAt:     createdAt,
			},
		})
	}
	return ops
}

// PlanWatermark emits the watermark upsert, or nothing when next does not
// advance past previous.
func (p *Planner) PlanWatermark(identifier string, previous, next time.Time) []model.UpsertOp {
	if !next.After(previous) {
		return nil
	}
	now := p.now()
	return []model.UpsertOp{{
		Collection: p.watermarks,
		Filter:     model.Filter{Field: FieldIdentifier, Value: identifier},
		Set: map[string]interface{}{
			FieldLastRunTimestamp: timestamp.FormatWatermark(next),
			FieldUpdatedAt:        now,
		},
		SetOnInsert: map[string]interface{}{
			FieldIdentifier: identifier,
			FieldCreatedAt:  now,
		},
	}}
}

func (p *Planner) updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return p.now()
	}
	return t
}

func lessonsOrEmpty(l []model.LessonRecord) []model.LessonRecord {
	if l == nil {
		return []model.LessonRecord{}
	}
	return l
}
