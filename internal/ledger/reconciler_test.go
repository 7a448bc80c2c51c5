package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/timestamp"
)

var fixedNow = time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)

func newTestReconciler() *Reconciler {
	return NewReconciler(nil, func() time.Time { return fixedNow })
}

func dana() model.RosterEntry {
	return model.RosterEntry{Phone: "972501234567", Name: "Dana", CurrentLesson: "7", Teacher: "Noa"}
}

func practice(ts, hint string) model.Event {
	return model.Event{Kind: model.EventPractice, Timestamp: ts, LessonHint: hint}
}

func message(ts string) model.Event {
	return model.Event{Kind: model.EventMessage, Timestamp: ts}
}

func TestApply_NewParticipantPractice(t *testing.T) {
	r := newTestReconciler()

	d, err := r.Apply(dana(), nil, practice("10:00, 01.01.2025", "7"))
	require.NoError(t, err)

	assert.True(t, d.Mutated)
	doc := d.Document
	assert.Equal(t, "7", doc.CurrentLesson)
	assert.Equal(t, "10:00, 01.01.2025", doc.LastPracticeTimedate)
	assert.Empty(t, doc.LastMessageTimedate)
	assert.Equal(t, fixedNow, doc.CreatedAt)
	assert.Equal(t, fixedNow, doc.UpdatedAt)
	require.Len(t, doc.Lessons, 1)
	assert.Equal(t, model.LessonRecord{
		Lesson:        "7",
		Teacher:       "Noa",
		PracticeCount: 1,
		FirstPractice: "10:00, 01.01.2025",
		LastPractice:  "10:00, 01.01.2025",
	}, doc.Lessons[0])
	require.NotNil(t, d.SheetUpdate)
	assert.Equal(t, model.SheetUpdate{Phone: "972501234567", Column: "last_practice", Value: "10:00, 01.01.2025"}, *d.SheetUpdate)
}

func TestApply_IdenticalTimestampIsNoop(t *testing.T) {
	r := newTestReconciler()
	first, err := r.Apply(dana(), nil, practice("10:00, 01.01.2025", "7"))
	require.NoError(t, err)

	second, err := r.Apply(dana(), &first.Document, practice("10:00, 01.01.2025", "7"))
	require.NoError(t, err)

	assert.False(t, second.Mutated)
	assert.Nil(t, second.SheetUpdate)
	assert.Equal(t, first.Document, second.Document)
}

func TestApply_OlderTimestampIsNoop(t *testing.T) {
	r := newTestReconciler()
	first, _ := r.Apply(dana(), nil, practice("10:00, 02.01.2025", "7"))

	d, err := r.Apply(dana(), &first.Document, practice("09:00, 02.01.2025", "8"))
	require.NoError(t, err)
	assert.False(t, d.Mutated)
	assert.Equal(t, "7", d.Document.CurrentLesson)
	assert.Len(t, d.Document.Lessons, 1)
}

func TestApply_LessonAdvanceAppendsRecord(t *testing.T) {
	r := newTestReconciler()
	first, _ := r.Apply(dana(), nil, practice("10:00, 01.01.2025", "7"))

	d, err := r.Apply(dana(), &first.Document, practice("10:00, 03.01.2025", "8"))
	require.NoError(t, err)

	assert.True(t, d.Mutated)
	assert.Equal(t, "8", d.Document.CurrentLesson)
	require.Len(t, d.Document.Lessons, 2)
	assert.Equal(t, first.Document.Lessons[0], d.Document.Lessons[0])
	assert.Equal(t, "8", d.Document.Lessons[1].Lesson)
	assert.Equal(t, 1, d.Document.Lessons[1].PracticeCount)
	assert.Equal(t, "10:00, 03.01.2025", d.Document.Lessons[1].FirstPractice)
	assert.Equal(t, "10:00, 03.01.2025", d.Document.LastPracticeTimedate)
	// The first call's document must not have been touched.
	assert.Len(t, first.Document.Lessons, 1)
}

func TestApply_OlderHintNeverRegresses(t *testing.T) {
	r := newTestReconciler()
	stored := &model.StudentDocument{
		UniqID:               "x",
		CurrentLesson:        "8",
		LastPracticeTimedate: "10:00, 01.01.2025",
		Lessons:              []model.LessonRecord{{Lesson: "8", PracticeCount: 2, LastPractice: "10:00, 01.01.2025"}},
	}

	d, err := r.Apply(dana(), stored, practice("11:00, 01.01.2025", "7"))
	require.NoError(t, err)

	assert.True(t, d.Mutated)
	assert.Equal(t, "8", d.Document.CurrentLesson)
	require.Len(t, d.Document.Lessons, 1)
	assert.Equal(t, 3, d.Document.Lessons[0].PracticeCount)
}

func TestApply_IncomparableHintIgnored(t *testing.T) {
	r := newTestReconciler()
	first, _ := r.Apply(dana(), nil, practice("10:00, 01.01.2025", "7"))

	d, err := r.Apply(dana(), &first.Document, practice("11:00, 01.01.2025", "intro"))
	require.NoError(t, err)
	assert.Equal(t, "7", d.Document.CurrentLesson)
	assert.Equal(t, 2, d.Document.Lessons[0].PracticeCount)
}

func TestApply_SequenceOrder(t *testing.T) {
	r := NewReconciler(SequenceOrder([]string{"intro", "basics", "advanced"}), func() time.Time { return fixedNow })
	entry := dana()
	entry.CurrentLesson = "intro"

	d, err := r.Apply(entry, nil, practice("10:00, 01.01.2025", "basics"))
	require.NoError(t, err)
	assert.Equal(t, "basics", d.Document.CurrentLesson)

	d, err = r.Apply(entry, &d.Document, practice("11:00, 01.01.2025", "intro"))
	require.NoError(t, err)
	assert.Equal(t, "basics", d.Document.CurrentLesson)
}

func TestApply_MessageGateIsIndependent(t *testing.T) {
	r := newTestReconciler()
	first, _ := r.Apply(dana(), nil, practice("12:00, 01.01.2025", "7"))

	// A message older than the last practice still counts: the gates are per field.
	d, err := r.Apply(dana(), &first.Document, message("09:00, 01.01.2025"))
	require.NoError(t, err)
	assert.True(t, d.Mutated)
	assert.Nil(t, d.SheetUpdate)
	assert.Equal(t, "09:00, 01.01.2025", d.Document.LastMessageTimedate)
	assert.Equal(t, "12:00, 01.01.2025", d.Document.LastPracticeTimedate)
	assert.Equal(t, 1, d.Document.Lessons[0].MessageCount)
	assert.Equal(t, 1, d.Document.Lessons[0].PracticeCount)

	again, err := r.Apply(dana(), &d.Document, message("09:00, 01.01.2025"))
	require.NoError(t, err)
	assert.False(t, again.Mutated)
}

func TestApply_LegacyStoredTimestamps(t *testing.T) {
	r := newTestReconciler()
	stored := &model.StudentDocument{
		UniqID:               "x",
		CurrentLesson:        "7",
		LastPracticeTimedate: "20:15, 25/08/2025",
		LastMessageTimedate:  "6:51 PM, 26/8/2025",
		Lessons:              []model.LessonRecord{{Lesson: "7", PracticeCount: 4, LastPractice: "20:15, 25/08/2025"}},
	}

	older, err := r.Apply(dana(), stored, practice("10:00, 20.08.2025", "7"))
	require.NoError(t, err)
	assert.False(t, older.Mutated)

	d, err := r.Apply(dana(), stored, practice("10:00, 01.10.2025", "7"))
	require.NoError(t, err)
	assert.True(t, d.Mutated)
	assert.Equal(t, "10:00, 01.10.2025", d.Document.LastPracticeTimedate)
	assert.Equal(t, "10:00, 01.10.2025", d.Document.Lessons[0].LastPractice)
	assert.Equal(t, 5, d.Document.Lessons[0].PracticeCount)

	// Replaying the same event against the rewritten document is a no-op.
	again, err := r.Apply(dana(), &d.Document, practice("10:00, 01.10.2025", "7"))
	require.NoError(t, err)
	assert.False(t, again.Mutated)

	msg, err := r.Apply(dana(), stored, message("18:00, 26.08.2025"))
	require.NoError(t, err)
	assert.False(t, msg.Mutated)

	// Event timestamps stay strict.
	_, err = r.Apply(dana(), stored, practice("10:00, 01/10/2025", "7"))
	assert.ErrorIs(t, err, apperrors.ErrMalformedTimestamp)
}

func TestApply_TotalMessagesFrozen(t *testing.T) {
	r := newTestReconciler()
	stored := model.NewStudentDocument(&model.StudentDocument{CurrentLesson: "7", LastPracticeTimedate: "10:00, 01.01.2025"})
	stored.TotalMessages = 41

	d, err := r.Apply(dana(), stored, message("10:00, 04.01.2025"))
	require.NoError(t, err)
	assert.Equal(t, 41, d.Document.TotalMessages)
}

func TestApply_NoLessonKnown(t *testing.T) {
	r := newTestReconciler()
	entry := dana()
	entry.CurrentLesson = ""

	d, err := r.Apply(entry, nil, practice("10:00, 01.01.2025", ""))
	require.NoError(t, err)
	assert.True(t, d.Mutated)
	assert.Empty(t, d.Document.Lessons)
	assert.Equal(t, "10:00, 01.01.2025", d.Document.LastPracticeTimedate)
}

func TestApply_RecordErrors(t *testing.T) {
	r := newTestReconciler()

	_, err := r.Apply(dana(), nil, practice("yesterday", "7"))
	assert.ErrorIs(t, err, apperrors.ErrMalformedTimestamp)

	bad := dana()
	bad.Phone = ""
	_, err = r.Apply(bad, nil, practice("10:00, 01.01.2025", "7"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentity)

	_, err = r.Apply(dana(), nil, model.Event{Kind: "sticker", Timestamp: "10:00, 01.01.2025"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	corrupt := &model.StudentDocument{LastPracticeTimedate: "2025-01-01"}
	_, err = r.Apply(dana(), corrupt, practice("10:00, 01.01.2025", "7"))
	assert.ErrorIs(t, err, apperrors.ErrMalformedTimestamp)
}

func TestApply_MonotonicAcrossSequence(t *testing.T) {
	r := newTestReconciler()
	events := []model.Event{
		practice("10:00, 01.01.2025", "7"),
		message("10:05, 01.01.2025"),
		practice("09:00, 01.01.2025", "7"),
		practice("10:00, 02.01.2025", "8"),
		message("08:00, 01.01.2025"),
		practice("10:00, 02.01.2025", "8"),
		practice("10:00, 03.01.2025", "6"),
	}

	var doc *model.StudentDocument
	prevCounts := map[string][2]int{}
	for _, ev := range events {
		d, err := r.Apply(dana(), doc, ev)
		require.NoError(t, err)
		if !d.Mutated {
			continue
		}
		next := d.Document
		if doc != nil {
			ord, err := timestamp.CompareDisplay(next.LastPracticeTimedate, doc.LastPracticeTimedate)
			require.NoError(t, err)
			assert.NotEqual(t, timestamp.Before, ord)

			cmp, ok := NumericOrder(next.CurrentLesson, doc.CurrentLesson)
			require.True(t, ok)
			assert.GreaterOrEqual(t, cmp, 0)
		}
		for _, l := range next.Lessons {
			prev := prevCounts[l.Lesson]
			assert.GreaterOrEqual(t, l.PracticeCount, prev[0])
			assert.GreaterOrEqual(t, l.MessageCount, prev[1])
			prevCounts[l.Lesson] = [2]int{l.PracticeCount, l.MessageCount}
		}
		doc = &next
	}
	require.NotNil(t, doc)
	assert.Equal(t, "8", doc.CurrentLesson)
	assert.Len(t, doc.Lessons, 2)
}
