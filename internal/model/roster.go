package model

import (
	"strings"

	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
)

// RosterEntry is one known participant from the roster sheet.
type RosterEntry struct {
	// Phone is the normalized phone number.
	Phone         string `json:"phone" yaml:"phone" validate:"required,numeric"`
	Name          string `json:"name" yaml:"name" validate:"required"`
	CurrentLesson string `json:"current_lesson" yaml:"current_lesson"`
	Teacher       string `json:"teacher" yaml:"teacher"`
	// Row is the 1-based sheet row the entry was read from; zero when unknown.
	Row int `json:"row,omitempty" yaml:"row,omitempty" validate:"gte=0"`
}

// Roster indexes roster entries by normalized phone and by lower-cased name.
type Roster struct {
	byPhone map[string]RosterEntry
	byName  map[string]RosterEntry
}

// NewRoster builds the lookup tables. Later entries win on duplicate keys.
func NewRoster(entries []RosterEntry) *Roster {
	r := &Roster{
		byPhone: make(map[string]RosterEntry, len(entries)),
		byName:  make(map[string]RosterEntry, len(entries)),
	}
	for _, e := range entries {
		r.byPhone[e.Phone] = e
		if name := strings.ToLower(strings.TrimSpace(e.Name)); name != "" {
			r.byName[name] = e
		}
	}
	return r
}

// Len returns the number of distinct phones.
func (r *Roster) Len() int {
	return len(r.byPhone)
}

// Lookup resolves a chat sender. Phone-shaped senders are normalized and
// matched by phone; anything else is matched by name, case-insensitively.
func (r *Roster) Lookup(sender string) (RosterEntry, bool) {
	if identity.LooksLikePhone(sender) {
		phone, err := identity.NormalizePhone(sender)
		if err != nil {
			return RosterEntry{}, false
		}
		e, ok := r.byPhone[phone]
		return e, ok
	}
	e, ok := r.byName[strings.ToLower(strings.TrimSpace(sender))]
	return e, ok
}
