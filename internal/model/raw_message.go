package model

// RawMessage is one chat message as delivered by a message source, in the
// order the source extracted it.
type RawMessage struct {
	// Sender is the phone number or saved contact name shown by the chat client.
	Sender string `json:"sender" yaml:"sender"`
	// Timestamp is expected in the display format "HH:MM, DD.MM.YYYY".
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Text      string `json:"text" yaml:"text"`
}

// EventKind classifies a student chat message.
type EventKind string

const (
	EventPractice EventKind = "practice"
	EventMessage  EventKind = "message"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	return k == EventPractice || k == EventMessage
}

// Event is a classified student message ready for reconciliation.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"timestamp"`
	// LessonHint is the lesson the message is evidence of; empty when unknown.
	LessonHint string `json:"lesson_hint,omitempty"`
}
