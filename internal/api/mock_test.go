package api

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/jobstore/internal/merge"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/query"
)

// --- Records Mock ---

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobRecord), args.Error(1)
}

func (m *mockRecords) UpdateFields(ctx context.Context, id string, fields map[string]any) (*model.JobRecord, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobRecord), args.Error(1)
}

func (m *mockRecords) DeleteJob(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecords) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Ingester Mock ---

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, candidates []map[string]any, chunkSize int) *model.IngestionBatch {
	args := m.Called(ctx, candidates, chunkSize)
	return args.Get(0).(*model.IngestionBatch)
}

// --- Reader Mock ---

type mockReader struct {
	mock.Mock
}

func (m *mockReader) List(ctx context.Context, f query.Filter) ([]model.JobRecord, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.JobRecord), args.Error(1)
}

func (m *mockReader) Count(ctx context.Context, f query.Filter) (int64, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockReader) Stats(ctx context.Context, window time.Duration) (*query.Stats, error) {
	args := m.Called(ctx, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*query.Stats), args.Error(1)
}

// --- Merger Mock ---

type mockMerger struct {
	mock.Mock
}

func (m *mockMerger) Run(ctx context.Context) (*merge.PassResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*merge.PassResult), args.Error(1)
}
