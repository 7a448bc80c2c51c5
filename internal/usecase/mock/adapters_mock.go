package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/usecase"
)

// MessageSourceMock mocks usecase.MessageSource
type MessageSourceMock struct {
	mock.Mock
}

var _ usecase.MessageSource = (*MessageSourceMock)(nil)

// ReadMessages mocks the ReadMessages method
func (m *MessageSourceMock) ReadMessages(ctx context.Context, group string, count int) ([]model.RawMessage, error) {
	args := m.Called(ctx, group, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RawMessage), args.Error(1)
}

// SheetMock mocks the roster and lead spreadsheet adapters
type SheetMock struct {
	mock.Mock
}

var (
	_ usecase.RosterSource = (*SheetMock)(nil)
	_ usecase.RosterWriter = (*SheetMock)(nil)
	_ usecase.LeadSink     = (*SheetMock)(nil)
)

// LoadRoster mocks the LoadRoster method
func (m *SheetMock) LoadRoster(ctx context.Context) ([]model.RosterEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RosterEntry), args.Error(1)
}

// ApplyLastPractice mocks the ApplyLastPractice method
func (m *SheetMock) ApplyLastPractice(ctx context.Context, updates []model.SheetUpdate) (int, error) {
	args := m.Called(ctx, updates)
	return args.Int(0), args.Error(1)
}

// AppendLeads mocks the AppendLeads method
func (m *SheetMock) AppendLeads(ctx context.Context, leads []model.Lead) (int, error) {
	args := m.Called(ctx, leads)
	return args.Int(0), args.Error(1)
}

// PublisherMock mocks usecase.EventPublisher
type PublisherMock struct {
	mock.Mock
}

var _ usecase.EventPublisher = (*PublisherMock)(nil)

// PublishRunLog mocks the PublishRunLog method
func (m *PublisherMock) PublishRunLog(ctx context.Context, entry model.RunLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// PublishLeads mocks the PublishLeads method
func (m *PublisherMock) PublishLeads(ctx context.Context, leads []model.Lead) error {
	args := m.Called(ctx, leads)
	return args.Error(0)
}

// PipelineMock mocks usecase.Pipeline
type PipelineMock struct {
	mock.Mock
}

var _ usecase.Pipeline = (*PipelineMock)(nil)

// RunOnce mocks the RunOnce method
func (m *PipelineMock) RunOnce(ctx context.Context) (usecase.RunReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(usecase.RunReport), args.Error(1)
}
