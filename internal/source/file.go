package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/identity"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// Batch is a recorded extraction: the roster plus the messages of each group.
type Batch struct {
	Roster []model.RosterEntry            `yaml:"roster"`
	Groups map[string][]model.RawMessage `yaml:"groups"`
}

// LoadBatch reads a batch file. Unknown fields are rejected and roster
// phones are normalized.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read batch file: %w", apperrors.ErrSourceUnavailable, err)
	}
	return ParseBatch(data)
}

// ParseBatch decodes a YAML batch.
func ParseBatch(data []byte) (*Batch, error) {
	var b Batch
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: parse batch: %w", apperrors.ErrValidation, err)
	}
	for i := range b.Roster {
		phone, err := identity.NormalizePhone(b.Roster[i].Phone)
		if err != nil {
			return nil, fmt.Errorf("roster entry %d: %w", i, err)
		}
		b.Roster[i].Phone = phone
	}
	return &b, nil
}

// FileSource serves a Batch in place of the chat client and the roster
// sheet, and records the sheet writes a run would make.
type FileSource struct {
	batch *Batch

	mu      sync.Mutex
	updates []model.SheetUpdate
	leads   []model.Lead
}

// NewFileSource wraps a loaded batch.
func NewFileSource(b *Batch) *FileSource {
	if b == nil {
		b = &Batch{}
	}
	return &FileSource{batch: b}
}

// ReadMessages returns the last count messages recorded for group.
func (f *FileSource) ReadMessages(_ context.Context, group string, count int) ([]model.RawMessage, error) {
	msgs, ok := f.batch.Groups[group]
	if !ok {
		return nil, nil
	}
	if count > 0 && len(msgs) > count {
		msgs = msgs[len(msgs)-count:]
	}
	out := make([]model.RawMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// LoadRoster returns the recorded roster.
func (f *FileSource) LoadRoster(_ context.Context) ([]model.RosterEntry, error) {
	out := make([]model.RosterEntry, len(f.batch.Roster))
	copy(out, f.batch.Roster)
	return out, nil
}

// ApplyLastPractice records updates.
func (f *FileSource) ApplyLastPractice(_ context.Context, updates []model.SheetUpdate) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates...)
	return len(updates), nil
}

// AppendLeads records leads.
func (f *FileSource) AppendLeads(_ context.Context, leads []model.Lead) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, leads...)
	return len(leads), nil
}

// SheetUpdates returns the recorded roster updates.
func (f *FileSource) SheetUpdates() []model.SheetUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SheetUpdate(nil), f.updates...)
}

// Leads returns the recorded lead rows.
func (f *FileSource) Leads() []model.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Lead(nil), f.leads...)
}
