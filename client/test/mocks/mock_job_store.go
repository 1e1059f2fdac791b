package mocks

import (
	"context"
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/types"
)

// MockJobStore is a mock implementation of store.JobStore for testing.
type MockJobStore struct {
	CreateFunc                      func(ctx context.Context, job *types.Job) (int64, error)
	FindByIDFunc                    func(ctx context.Context, id int64) (*types.Job, error)
	TransitionFunc                  func(ctx context.Context, id int64, to state.JobStatus, errorDetail *string) (*types.Job, error)
	AppendRowsFunc                  func(ctx context.Context, jobID int64, rows []types.Row) (int, error)
	CompleteWithRowsFunc            func(ctx context.Context, jobID int64, rows []types.Row) (int, error)
	RowsForJobFunc                  func(ctx context.Context, jobID int64) ([]types.Row, error)
	FindStuckJobsFunc               func(ctx context.Context, olderThan time.Duration) ([]types.Job, error)
	CountAllJobsGroupedByStatusFunc func(ctx context.Context) (map[state.JobStatus]int, error)
	ListJobsFunc                    func(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error)
	CloseFunc                       func() error
}

func (m *MockJobStore) Create(ctx context.Context, job *types.Job) (int64, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
	return 0, nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) Transition(ctx context.Context, id int64, to state.JobStatus, errorDetail *string) (*types.Job, error) {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, id, to, errorDetail)
	}
	return nil, nil
}

func (m *MockJobStore) AppendRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	if m.AppendRowsFunc != nil {
		return m.AppendRowsFunc(ctx, jobID, rows)
	}
	return len(rows), nil
}

func (m *MockJobStore) CompleteWithRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	if m.CompleteWithRowsFunc != nil {
		return m.CompleteWithRowsFunc(ctx, jobID, rows)
	}
	return len(rows), nil
}

func (m *MockJobStore) RowsForJob(ctx context.Context, jobID int64) ([]types.Row, error) {
	if m.RowsForJobFunc != nil {
		return m.RowsForJobFunc(ctx, jobID)
	}
	return nil, nil
}

func (m *MockJobStore) FindStuckJobs(ctx context.Context, olderThan time.Duration) ([]types.Job, error) {
	if m.FindStuckJobsFunc != nil {
		return m.FindStuckJobsFunc(ctx, olderThan)
	}
	return nil, nil
}

func (m *MockJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	if m.CountAllJobsGroupedByStatusFunc != nil {
		return m.CountAllJobsGroupedByStatusFunc(ctx)
	}
	return map[state.JobStatus]int{}, nil
}

func (m *MockJobStore) ListJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error) {
	if m.ListJobsFunc != nil {
		return m.ListJobsFunc(ctx, page, pageSize, statuses)
	}
	return types.NewPaginationResult[types.Job](nil, 0, page, pageSize), nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
