package ledger

import (
	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// Session applies one batch of events in arrival order. Each participant's
// state is threaded through successive events, so later events are gated
// against earlier events of the same batch.
type Session struct {
	rec    *Reconciler
	states map[string]*sessionState
	order  []string

	sheet      map[string]int
	sheetQueue []model.SheetUpdate
}

type sessionState struct {
	doc     *model.StudentDocument
	mutated bool
}

// NewSession starts an empty batch.
func (r *Reconciler) NewSession() *Session {
	return &Session{
		rec:    r,
		states: make(map[string]*sessionState),
		sheet:  make(map[string]int),
	}
}

// Known reports whether the participant's stored state has been seeded.
func (s *Session) Known(uniqID string) bool {
	_, ok := s.states[uniqID]
	return ok
}

// Seed records the stored document for uniqID; nil means not found.
func (s *Session) Seed(uniqID string, stored *model.StudentDocument) {
	if s.Known(uniqID) {
		return
	}
	var doc *model.StudentDocument
	if stored != nil {
		c := stored.Clone()
		doc = &c
	}
	s.states[uniqID] = &sessionState{doc: doc}
	s.order = append(s.order, uniqID)
}

// Apply reconciles ev against the participant's current in-batch state.
// Participants that were never seeded are treated as new.
func (s *Session) Apply(entry model.RosterEntry, ev model.Event) (Decision, error) {
	uniqID, err := identity.ComputeUniqID(entry.Phone, entry.Name)
	if err != nil {
		return Decision{}, err
	}
	s.Seed(uniqID, nil)
	st := s.states[uniqID]

	d, err := s.rec.Apply(entry, st.doc, ev)
	if err != nil || !d.Mutated {
		return d, err
	}

	doc := d.Document
	st.doc = &doc
	st.mutated = true
	if d.SheetUpdate != nil {
		s.queueSheetUpdate(*d.SheetUpdate)
	}
	return d, nil
}

func (s *Session) queueSheetUpdate(u model.SheetUpdate) {
	if i, ok := s.sheet[u.Phone]; ok {
		s.sheetQueue[i] = u
		return
	}
	s.sheet[u.Phone] = len(s.sheetQueue)
	s.sheetQueue = append(s.sheetQueue, u)
}

// Mutated returns the final state of every participant that changed, in
// first-appearance order.
func (s *Session) Mutated() []model.StudentDocument {
	out := make([]model.StudentDocument, 0, len(s.order))
	for _, id := range s.order {
		if st := s.states[id]; st.mutated {
			out = append(out, st.doc.Clone())
		}
	}
	return out
}

// SheetUpdates returns the latest owed last-practice value per phone.
func (s *Session) SheetUpdates() []model.SheetUpdate {
	out := make([]model.SheetUpdate, len(s.sheetQueue))
	copy(out, s.sheetQueue)
	return out
}
