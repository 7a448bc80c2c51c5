package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gitlab.com/timkado/api/wa-group-etl/internal/apperrors"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// MemoryStore is an in-process Store used by dry runs and tests. Documents
// are kept as field maps so upserts follow the same merge rules as the
// database adapters.
type MemoryStore struct {
	mu      sync.Mutex
	layout  Layout
	docs    map[string]map[string]map[string]interface{}
	ops     []model.UpsertOp
	runLogs []model.RunLogEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(layout Layout) *MemoryStore {
	return &MemoryStore{
		layout: layout.withDefaults(),
		docs:   make(map[string]map[string]map[string]interface{}),
	}
}

// FindStudent implements StudentRepo.
func (m *MemoryStore) FindStudent(_ context.Context, uniqID string) (*model.StudentDocument, error) {
	var doc model.StudentDocument
	if err := m.find(m.layout.Students.Collection, uniqID, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindWatermark implements WatermarkRepo.
func (m *MemoryStore) FindWatermark(_ context.Context, identifier string) (*model.SalesWatermark, error) {
	var wm model.SalesWatermark
	if err := m.find(m.layout.Watermarks.Collection, identifier, &wm); err != nil {
		return nil, err
	}
	return &wm, nil
}

func (m *MemoryStore) find(collection, key string, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, ok := m.docs[collection][key]
	if !ok {
		return apperrors.ErrNotFound
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %w", apperrors.ErrDatabase, collection, key, err)
	}
	return nil
}

// ApplyUpserts implements UpsertExecutor.
func (m *MemoryStore) ApplyUpserts(_ context.Context, ops []model.UpsertOp) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, op := range ops {
		if op.Filter.Field == "" || op.Filter.Value == "" {
			return i, fmt.Errorf("%w: upsert on %s has an empty filter", apperrors.ErrValidation, op.Collection)
		}
		coll, ok := m.docs[op.Collection]
		if !ok {
			coll = make(map[string]map[string]interface{})
			m.docs[op.Collection] = coll
		}
		doc, exists := coll[op.Filter.Value]
		if !exists {
			doc = map[string]interface{}{op.Filter.Field: op.Filter.Value}
			for k, v := range op.SetOnInsert {
				doc[k] = v
			}
			coll[op.Filter.Value] = doc
		}
		for k, v := range op.Set {
			doc[k] = v
		}
		m.ops = append(m.ops, op)
	}
	return len(ops), nil
}

// SaveRunLog implements RunLogRepo.
func (m *MemoryStore) SaveRunLog(_ context.Context, entry model.RunLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runLogs = append(m.runLogs, entry)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close(context.Context) error { return nil }

// AppliedOps returns every upsert applied so far.
func (m *MemoryStore) AppliedOps() []model.UpsertOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.UpsertOp, len(m.ops))
	copy(out, m.ops)
	return out
}

// RunLogs returns the saved run log entries.
func (m *MemoryStore) RunLogs() []model.RunLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunLogEntry, len(m.runLogs))
	copy(out, m.runLogs)
	return out
}

// Count returns the number of documents in collection.
func (m *MemoryStore) Count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

var _ Store = (*MemoryStore)(nil)
