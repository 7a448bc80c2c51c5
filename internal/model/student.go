package model

import "time"

// LessonRecord tracks one lesson a student has reached.
type LessonRecord struct {
	Lesson        string `json:"lesson" bson:"lesson"`
	Teacher       string `json:"teacher" bson:"teacher"`
	PracticeCount int    `json:"practice_count" bson:"practice_count"`
	MessageCount  int    `json:"message_count" bson:"message_count"`
	// FirstPractice is set when the record is created and never changed.
	FirstPractice string `json:"first_practice" bson:"first_practice"`
	LastPractice  string `json:"last_practice" bson:"last_practice"`
	// Paid is only ever set by an operator.
	Paid bool `json:"paid" bson:"paid"`
}

// StudentDocument is the persisted ledger of one participant, keyed by UniqID.
type StudentDocument struct {
	UniqID               string         `json:"uniq_id" bson:"uniq_id"`
	PhoneNumber          string         `json:"phone_number" bson:"phone_number"`
	Name                 string         `json:"name" bson:"name"`
	CurrentLesson        string         `json:"current_lesson" bson:"current_lesson"`
	LastMessageTimedate  string         `json:"last_message_timedate,omitempty" bson:"last_message_timedate,omitempty"`
	LastPracticeTimedate string         `json:"last_practice_timedate,omitempty" bson:"last_practice_timedate,omitempty"`
	Lessons              []LessonRecord `json:"lessons" bson:"lessons"`
	// TotalMessages is kept for older documents and no longer incremented.
	TotalMessages int       `json:"total_messages" bson:"total_messages"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy so a reconciliation step never aliases stored state.
func (d StudentDocument) Clone() StudentDocument {
	out := d
	if d.Lessons != nil {
		out.Lessons = make([]LessonRecord, len(d.Lessons))
		copy(out.Lessons, d.Lessons)
	}
	return out
}

// LessonIndex returns the position of lesson in Lessons, or -1.
func (d StudentDocument) LessonIndex(lesson string) int {
	for i := range d.Lessons {
		if d.Lessons[i].Lesson == lesson {
			return i
		}
	}
	return -1
}

// SheetUpdate asks the roster sheet to set one column of the row keyed by Phone.
type SheetUpdate struct {
	Phone  string `json:"phone"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// LastPracticeColumn is the roster column written after a new practice.
const LastPracticeColumn = "last_practice"
