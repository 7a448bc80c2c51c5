//go:build integration

package integration_test

import (
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/planner"
)

func (s *IntegrationSuite) TestStore_StudentUpsertKeepsInsertOnlyFields() {
	layout := s.Layout()
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	plan := planner.New(
		planner.WithCollections(layout.Students.Collection, layout.Watermarks.Collection),
		planner.WithClock(func() time.Time { return created }),
	)

	for driver, store := range s.OpenStores(layout) {
		s.Run(driver, func() {
			first := model.StudentDocument{
				UniqID:               "uid-" + driver,
				PhoneNumber:          "972501234567",
				Name:                 "Dana",
				CurrentLesson:        "1",
				LastPracticeTimedate: "10:00, 01.01.2025",
				Lessons: []model.LessonRecord{{
					Lesson: "1", Teacher: "Avi", PracticeCount: 1,
					FirstPractice: "10:00, 01.01.2025", LastPractice: "10:00, 01.01.2025",
				}},
				TotalMessages: 7,
			}
			n, err := store.ApplyUpserts(s.Ctx, plan.PlanStudents([]model.StudentDocument{first}))
			s.Require().NoError(err)
			s.Equal(1, n)

			second := first.Clone()
			second.Lessons[0].PracticeCount = 2
			second.Lessons[0].LastPractice = "11:00, 02.01.2025"
			second.LastPracticeTimedate = "11:00, 02.01.2025"
			second.TotalMessages = 99
			second.CreatedAt = created.Add(24 * time.Hour)
			_, err = store.ApplyUpserts(s.Ctx, plan.PlanStudents([]model.StudentDocument{second}))
			s.Require().NoError(err)

			got, err := store.FindStudent(s.Ctx, first.UniqID)
			s.Require().NoError(err)
			s.Equal("11:00, 02.01.2025", got.LastPracticeTimedate)
			s.Require().Len(got.Lessons, 1)
			s.Equal(2, got.Lessons[0].PracticeCount)
			s.Equal("10:00, 01.01.2025", got.Lessons[0].FirstPractice)
			s.Equal(7, got.TotalMessages, "total_messages is insert-only")
			s.True(created.Equal(got.CreatedAt.UTC()), "created_at is insert-only")
		})
	}
}

func (s *IntegrationSuite) TestStore_MissingDocuments() {
	for driver, store := range s.OpenStores(s.Layout()) {
		s.Run(driver, func() {
			_, err := store.FindStudent(s.Ctx, "nobody")
			s.ErrorIs(err, apperrors.ErrNotFound)

			_, err = store.FindWatermark(s.Ctx, model.DefaultSalesIdentifier)
			s.ErrorIs(err, apperrors.ErrNotFound)

			s.NoError(store.Ping(s.Ctx))
		})
	}
}

func (s *IntegrationSuite) TestStore_WatermarkAdvances() {
	layout := s.Layout()
	plan := planner.New(planner.WithCollections(layout.Students.Collection, layout.Watermarks.Collection))
	t1 := time.Date(2025, 1, 2, 10, 30, 0, 0, time.UTC)
	t2 := t1.Add(90 * time.Minute)

	for driver, store := range s.OpenStores(layout) {
		s.Run(driver, func() {
			_, err := store.ApplyUpserts(s.Ctx, plan.PlanWatermark(model.DefaultSalesIdentifier, time.Time{}, t1))
			s.Require().NoError(err)
			wm, err := store.FindWatermark(s.Ctx, model.DefaultSalesIdentifier)
			s.Require().NoError(err)
			s.Equal("2025-01-02T10:30:00.000Z", wm.LastRunTimestamp)
			createdAt := wm.CreatedAt

			_, err = store.ApplyUpserts(s.Ctx, plan.PlanWatermark(model.DefaultSalesIdentifier, t1, t2))
			s.Require().NoError(err)
			wm, err = store.FindWatermark(s.Ctx, model.DefaultSalesIdentifier)
			s.Require().NoError(err)
			s.Equal("2025-01-02T12:00:00.000Z", wm.LastRunTimestamp)
			s.True(createdAt.Equal(wm.CreatedAt))
		})
	}
}

func (s *IntegrationSuite) TestStore_RunLogIsAppendOnly() {
	for driver, store := range s.OpenStores(s.Layout()) {
		s.Run(driver, func() {
			entry := model.RunLogEntry{
				ID:           uuid.NewString(),
				Source:       model.RunSourceSales,
				LogLevel:     model.LogLevelInfo,
				Timestamp:    time.Now().UTC(),
				MessagesRead: 3,
				Success:      true,
				Metadata:     map[string]interface{}{"process": "sales_lead_extraction"},
			}
			s.Require().NoError(store.SaveRunLog(s.Ctx, entry))

			err := store.SaveRunLog(s.Ctx, entry)
			s.ErrorIs(err, apperrors.ErrDuplicate)
		})
	}
}
