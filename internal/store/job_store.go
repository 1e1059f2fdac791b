package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/types"
)

// MaxListPageSize bounds the page size ListJobs accepts.
const MaxListPageSize = 100

// JobStore persists import jobs and the rows parsed from them.
type JobStore interface {
	// Create inserts the job in PENDING status and returns its ID.
	Create(ctx context.Context, job *types.Job) (int64, error)

	// FindByID returns custom_errors.ErrNotFound when no job has the given ID.
	FindByID(ctx context.Context, id int64) (*types.Job, error)

	// Transition moves a job to the given status in a single compare-and-set.
	// It returns custom_errors.ErrInvalidTransition when the current status cannot
	// move to `to` and custom_errors.ErrNotFound when the job does not exist.
	// Entering PROCESSING increments the attempt counter.
	Transition(ctx context.Context, id int64, to state.JobStatus, errorDetail *string) (*types.Job, error)

	// AppendRows inserts rows, skipping ordinals the job already has.
	// Returns the number of rows actually inserted.
	AppendRows(ctx context.Context, jobID int64, rows []types.Row) (int, error)

	// CompleteWithRows replaces the rows of a PROCESSING job and marks it SUCCESS
	// in one transaction. Nothing is written when any step fails.
	CompleteWithRows(ctx context.Context, jobID int64, rows []types.Row) (int, error)

	// RowsForJob returns the rows of a job ordered by ordinal.
	RowsForJob(ctx context.Context, jobID int64) ([]types.Row, error)

	// FindStuckJobs returns PENDING or PROCESSING jobs not updated within olderThan.
	FindStuckJobs(ctx context.Context, olderThan time.Duration) ([]types.Job, error)

	CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	// ListJobs returns one page of jobs, newest first, optionally limited to statuses.
	ListJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error)

	// Close closes the database
	Close() error
}
