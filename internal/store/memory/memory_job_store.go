// Package memory keeps jobs and users in process memory. It serves tests and
// single-process development runs; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
)

type JobStore struct {
	mu        sync.RWMutex
	nextID    int64
	nextRowID int64
	jobs      map[int64]types.Job
	rows      map[int64]map[int]types.Row
	now       func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[int64]types.Job),
		rows: make(map[int64]map[int]types.Row),
		now:  time.Now,
	}
}

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) Create(_ context.Context, job *types.Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now()
	job.ID = s.nextID
	job.Status = state.StatusPending
	job.Attempts = 0
	job.ErrorDetail = nil
	job.CreatedAt = now
	job.UpdatedAt = now

	s.jobs[job.ID] = cloneJob(*job)
	return job.ID, nil
}

func (s *JobStore) FindByID(_ context.Context, id int64) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, custom_errors.ErrNotFound)
	}
	out := cloneJob(job)
	return &out, nil
}

func (s *JobStore) Transition(_ context.Context, id int64, to state.JobStatus, errorDetail *string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, custom_errors.ErrNotFound)
	}
	if !state.IsValidTransition(job.Status, to) {
		return nil, fmt.Errorf("job %d %s -> %s: %w", id, job.Status, to, custom_errors.ErrInvalidTransition)
	}

	job.Status = to
	job.ErrorDetail = cloneString(errorDetail)
	if to == state.StatusProcessing {
		job.Attempts++
	}
	job.UpdatedAt = s.now()
	s.jobs[id] = job

	out := cloneJob(job)
	return &out, nil
}

func (s *JobStore) AppendRows(_ context.Context, jobID int64, rows []types.Row) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return 0, fmt.Errorf("job %d: %w", jobID, custom_errors.ErrNotFound)
	}
	return s.insertLocked(jobID, store.NormalizeRows(jobID, rows)), nil
}

func (s *JobStore) CompleteWithRows(_ context.Context, jobID int64, rows []types.Row) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, fmt.Errorf("job %d: %w", jobID, custom_errors.ErrNotFound)
	}
	if !state.IsValidTransition(job.Status, state.StatusSuccess) {
		return 0, fmt.Errorf("job %d %s -> %s: %w", jobID, job.Status, state.StatusSuccess, custom_errors.ErrInvalidTransition)
	}

	delete(s.rows, jobID)
	inserted := s.insertLocked(jobID, store.NormalizeRows(jobID, rows))

	job.Status = state.StatusSuccess
	job.ErrorDetail = nil
	job.UpdatedAt = s.now()
	s.jobs[jobID] = job
	return inserted, nil
}

func (s *JobStore) insertLocked(jobID int64, rows []types.Row) int {
	byOrdinal, ok := s.rows[jobID]
	if !ok {
		byOrdinal = make(map[int]types.Row, len(rows))
		s.rows[jobID] = byOrdinal
	}

	inserted := 0
	for _, row := range rows {
		if _, exists := byOrdinal[row.Ordinal]; exists {
			continue
		}
		s.nextRowID++
		row.ID = s.nextRowID
		byOrdinal[row.Ordinal] = cloneRow(row)
		inserted++
	}
	return inserted
}

func (s *JobStore) RowsForJob(_ context.Context, jobID int64) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Row, 0, len(s.rows[jobID]))
	for _, row := range s.rows[jobID] {
		result = append(result, cloneRow(row))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ordinal < result[j].Ordinal })
	return result, nil
}

func (s *JobStore) FindStuckJobs(_ context.Context, olderThan time.Duration) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-olderThan)
	var jobs []types.Job
	for _, job := range s.jobs {
		if job.Status.IsTerminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	slices.SortFunc(jobs, func(a, b types.Job) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return jobs, nil
}

func (s *JobStore) CountAllJobsGroupedByStatus(_ context.Context) (map[state.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	for _, job := range s.jobs {
		result[job.Status]++
	}
	return result, nil
}

func (s *JobStore) ListJobs(_ context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, pageSize = types.NormalizePage(page, pageSize, store.MaxListPageSize)
	var matched []types.Job
	for _, job := range s.jobs {
		if len(statuses) > 0 && !slices.Contains(statuses, job.Status) {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	start := min(max((page-1)*pageSize, 0), total)
	end := min(start+pageSize, total)

	items := make([]types.Job, 0, end-start)
	for _, job := range matched[start:end] {
		items = append(items, cloneJob(job))
	}
	return types.NewPaginationResult(items, total, page, pageSize), nil
}

func (s *JobStore) Close() error {
	return nil
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneJob(job types.Job) types.Job {
	job.ErrorDetail = cloneString(job.ErrorDetail)
	if job.OwnerID != nil {
		owner := *job.OwnerID
		job.OwnerID = &owner
	}
	return job
}

func cloneRow(row types.Row) types.Row {
	row.Name = cloneString(row.Name)
	row.Role = cloneString(row.Role)
	row.Location = cloneString(row.Location)
	row.ExtraInfo = cloneString(row.ExtraInfo)
	return row
}
