package mocks

import (
	"context"

	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/internal/store"
	"github.com/RezaEskandarii/pgqueue/types"
)

// MockJobStore is a mock implementation of store.JobStore for testing. Calls
// without an override go to Fallback when it is set.
type MockJobStore struct {
	Fallback store.JobStore

	InsertFunc                   func(ctx context.Context, job types.NewJob) (int64, error)
	FindByIDFunc                 func(ctx context.Context, id int64) (*types.Job, error)
	ClaimBatchFunc               func(ctx context.Context, opts store.ClaimOptions) (store.Claim, error)
	FindFinishedFunc             func(ctx context.Context, ids []int64) ([]types.JobResult, error)
	CountJobsGroupedByStatusFunc func(ctx context.Context) (map[state.JobStatus]int, error)
	CloseFunc                    func() error
}

func (m *MockJobStore) Insert(ctx context.Context, job types.NewJob) (int64, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, job)
	}
	if m.Fallback != nil {
		return m.Fallback.Insert(ctx, job)
	}
	return 0, nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.FindByID(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) ClaimBatch(ctx context.Context, opts store.ClaimOptions) (store.Claim, error) {
	if m.ClaimBatchFunc != nil {
		return m.ClaimBatchFunc(ctx, opts)
	}
	if m.Fallback != nil {
		return m.Fallback.ClaimBatch(ctx, opts)
	}
	return nil, nil
}

func (m *MockJobStore) FindFinished(ctx context.Context, ids []int64) ([]types.JobResult, error) {
	if m.FindFinishedFunc != nil {
		return m.FindFinishedFunc(ctx, ids)
	}
	if m.Fallback != nil {
		return m.Fallback.FindFinished(ctx, ids)
	}
	return nil, nil
}

func (m *MockJobStore) CountJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	if m.CountJobsGroupedByStatusFunc != nil {
		return m.CountJobsGroupedByStatusFunc(ctx)
	}
	if m.Fallback != nil {
		return m.Fallback.CountJobsGroupedByStatus(ctx)
	}
	return map[state.JobStatus]int{}, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if m.Fallback != nil {
		return m.Fallback.Close()
	}
	return nil
}
