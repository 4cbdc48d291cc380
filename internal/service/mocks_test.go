package service

import (
	"context"

	"github.com/Rrens/postbot/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockGenerator mocks the ContentGenerator interface
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedPost, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GeneratedPost), args.Error(1)
}

// MockRecordStore mocks the RecordStore interface
type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Persist(ctx context.Context, payload domain.PostPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *MockRecordStore) ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SessionSummary), args.Error(1)
}

// MockSessionCache mocks the SessionCache interface
type MockSessionCache struct {
	mock.Mock
}

func (m *MockSessionCache) Get(ctx context.Context, userID int64) (*domain.Session, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionCache) Set(ctx context.Context, s *domain.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSessionCache) Invalidate(ctx context.Context, userID int64) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}
