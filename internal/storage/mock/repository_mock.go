package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/wa-group-etl/internal/model"
)

// StoreMock mocks the storage.Store interface
type StoreMock struct {
	mock.Mock
}

// FindStudent mocks the FindStudent method
func (m *StoreMock) FindStudent(ctx context.Context, uniqID string) (*model.StudentDocument, error) {
	args := m.Called(ctx, uniqID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StudentDocument), args.Error(1)
}

// FindWatermark mocks the FindWatermark method
func (m *StoreMock) FindWatermark(ctx context.Context, identifier string) (*model.SalesWatermark, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SalesWatermark), args.Error(1)
}

// ApplyUpserts mocks the ApplyUpserts method
func (m *StoreMock) ApplyUpserts(ctx context.Context, ops []model.UpsertOp) (int, error) {
	args := m.Called(ctx, ops)
	return args.Int(0), args.Error(1)
}

// SaveRunLog mocks the SaveRunLog method
func (m *StoreMock) SaveRunLog(ctx context.Context, entry model.RunLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// Ping mocks the Ping method
func (m *StoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks the Close method
func (m *StoreMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
