package model

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

func fakePhone() string {
	return fmt.Sprintf("9725%08d", gofakeit.Number(0, 99999999))
}

func fakeDisplayTime() string {
	return utils.Now().Add(-time.Duration(gofakeit.Number(1, 72))*time.Hour).Format("15:04, 02.01.2006")
}

// NewRosterEntry creates a RosterEntry with default fake data.
func NewRosterEntry(overrideDefaults ...*RosterEntry) *RosterEntry {
	base := &RosterEntry{
		Phone:         fakePhone(),
		Name:          gofakeit.Name(),
		CurrentLesson: fmt.Sprintf("%d", gofakeit.Number(1, 20)),
		Teacher:       gofakeit.FirstName(),
		Row:           gofakeit.Number(2, 500),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		base.CurrentLesson = ovr.CurrentLesson
		base.Teacher = ovr.Teacher
		if ovr.Row != 0 {
			base.Row = ovr.Row
		}
	}
	return base
}

// NewStudentDocument creates a StudentDocument with one lesson and fake data.
func NewStudentDocument(overrideDefaults ...*StudentDocument) *StudentDocument {
	lesson := fmt.Sprintf("%d", gofakeit.Number(1, 20))
	last := fakeDisplayTime()
	base := &StudentDocument{
		UniqID:               gofakeit.LetterN(32),
		PhoneNumber:          fakePhone(),
		Name:                 gofakeit.Name(),
		CurrentLesson:        lesson,
		LastPracticeTimedate: last,
		Lessons: []LessonRecord{{
			Lesson:        lesson,
			Teacher:       gofakeit.FirstName(),
			PracticeCount: gofakeit.Number(1, 10),
			FirstPractice: last,
			LastPractice:  last,
		}},
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(24, 500)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.UniqID != "" {
			base.UniqID = ovr.UniqID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.CurrentLesson != "" {
			base.CurrentLesson = ovr.CurrentLesson
		}
		base.LastMessageTimedate = ovr.LastMessageTimedate
		if ovr.LastPracticeTimedate != "" {
			base.LastPracticeTimedate = ovr.LastPracticeTimedate
		}
		if ovr.Lessons != nil {
			base.Lessons = ovr.Lessons
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	return base
}

// NewRunLogEntry creates a successful RunLogEntry with fake counters.
func NewRunLogEntry(overrideDefaults ...*RunLogEntry) *RunLogEntry {
	base := &RunLogEntry{
		ID:           gofakeit.UUID(),
		Source:       gofakeit.RandomString([]string{RunSourceStudents, RunSourceSales}),
		LogLevel:     LogLevelInfo,
		Timestamp:    utils.Now(),
		MessagesRead: gofakeit.Number(0, 50),
		Applied:      gofakeit.Number(0, 10),
		TotalRunTime: float64(gofakeit.Number(1, 500)) / 100,
		Success:      true,
		Metadata:     map[string]interface{}{"process": "test"},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.LogLevel != "" {
			base.LogLevel = ovr.LogLevel
		}
		if !ovr.Timestamp.IsZero() {
			base.Timestamp = ovr.Timestamp
		}
		base.Success = ovr.Success
		base.ErrorMessage = ovr.ErrorMessage
		if ovr.Metadata != nil {
			base.Metadata = ovr.Metadata
		}
	}
	return base
}

// NewLead creates a Lead with fake data.
func NewLead(overrideDefaults ...*Lead) *Lead {
	base := &Lead{
		Source:    gofakeit.RandomString([]string{"FB", "IG", "Google", "Referral"}),
		Name:      gofakeit.FirstName(),
		Phone:     fmt.Sprintf("05%08d", gofakeit.Number(0, 99999999)),
		Email:     gofakeit.Email(),
		Timestamp: fakeDisplayTime(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.Source != "" {
			base.Source = ovr.Source
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		if ovr.Timestamp != "" {
			base.Timestamp = ovr.Timestamp
		}
	}
	return base
}
