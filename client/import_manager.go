// Package client is the submission and polling boundary of the importer.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/constants"
	"github.com/RezaEskandarii/csvimport/internal/dispatch"
	"github.com/RezaEskandarii/csvimport/internal/parser"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	log "github.com/sirupsen/logrus"
)

var formatsByExtension = map[string]string{
	".csv":  types.FormatCSV,
	".xlsx": types.FormatXLSX,
}

type ImportManager struct {
	jobs            store.JobStore
	sources         source.Store
	dispatcher      dispatch.Dispatcher
	requiredColumns []string
}

type ImportManagerOption func(*ImportManager)

// WithRequiredColumns rejects uploads whose header lacks any of columns.
func WithRequiredColumns(columns ...string) ImportManagerOption {
	return func(m *ImportManager) {
		m.requiredColumns = append([]string(nil), columns...)
	}
}

func NewImportManager(jobs store.JobStore, sources source.Store, dispatcher dispatch.Dispatcher, opts ...ImportManagerOption) *ImportManager {
	m := &ImportManager{
		jobs:       jobs,
		sources:    sources,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit stores the upload, records a PENDING job for it and enqueues the
// import task. The job id is returned as soon as the task is enqueued.
//
// If enqueueing fails the job is kept PENDING and the returned
// *custom_errors.BrokerError carries its id, so the caller can Redispatch it.
func (m *ImportManager) Submit(ctx context.Context, ownerID *int64, filename string, r io.Reader) (int64, error) {
	format, ok := formatsByExtension[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return 0, custom_errors.NewValidationError(fmt.Errorf("unsupported file %q: only .csv and .xlsx files are accepted", filename))
	}

	ref, err := m.sources.Save(ctx, filename, r)
	if err != nil {
		return 0, fmt.Errorf("save upload: %w", err)
	}

	if err := m.checkColumns(ctx, format, filename, ref); err != nil {
		m.discard(ctx, ref)
		return 0, err
	}

	job := &types.Job{
		OwnerID:   ownerID,
		SourceRef: ref,
		Format:    format,
		FileName:  filepath.Base(filename),
	}
	jobID, err := m.jobs.Create(ctx, job)
	if err != nil {
		m.discard(ctx, ref)
		return 0, err
	}

	if err := m.enqueue(ctx, jobID, ref); err != nil {
		return jobID, err
	}

	log.WithFields(log.Fields{"job_id": jobID, "file": job.FileName}).Info("import job submitted")
	return jobID, nil
}

// Redispatch enqueues the task of a job that is still PENDING, typically one
// whose first enqueue failed.
func (m *ImportManager) Redispatch(ctx context.Context, jobID int64) error {
	job, err := m.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.StatusPending {
		return fmt.Errorf("job %d is %s: %w", jobID, job.Status, custom_errors.ErrInvalidTransition)
	}
	return m.enqueue(ctx, job.ID, job.SourceRef)
}

// GetJob returns the job with its imported rows.
func (m *ImportManager) GetJob(ctx context.Context, jobID int64) (*types.JobView, error) {
	job, err := m.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	rows, err := m.jobs.RowsForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return types.NewJobView(*job, rows), nil
}

// ListJobs returns one page of jobs, newest first. An empty statuses lists every job.
func (m *ImportManager) ListJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error) {
	for _, status := range statuses {
		if !status.IsValid() {
			return nil, custom_errors.NewValidationError(fmt.Errorf("unknown status %q", status))
		}
	}
	return m.jobs.ListJobs(ctx, page, pageSize, statuses)
}

func (m *ImportManager) enqueue(ctx context.Context, jobID int64, ref string) error {
	msg := types.TaskMessage{JobID: jobID, SourceLocator: ref}
	if err := m.dispatcher.Enqueue(ctx, constants.ProcessCSVTask, msg); err != nil {
		var brokerErr *custom_errors.BrokerError
		if errors.As(err, &brokerErr) {
			brokerErr.JobID = jobID
			return brokerErr
		}
		return custom_errors.NewBrokerError(jobID, err)
	}
	return nil
}

func (m *ImportManager) checkColumns(ctx context.Context, format, filename, ref string) error {
	if len(m.requiredColumns) == 0 {
		return nil
	}

	rc, err := m.sources.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	defer rc.Close()

	reader, err := parser.New(format, filename, rc)
	if err != nil {
		if custom_errors.IsParseError(err) {
			return custom_errors.NewValidationError(err)
		}
		return err
	}
	defer reader.Close()

	if !reader.HasColumns(m.requiredColumns...) {
		return custom_errors.NewValidationError(fmt.Errorf("file %q must have columns %s", filename, strings.Join(m.requiredColumns, ", ")))
	}
	return nil
}

func (m *ImportManager) discard(ctx context.Context, ref string) {
	if err := m.sources.Remove(ctx, ref); err != nil {
		log.WithField("source", ref).Warnf("could not remove rejected upload: %v", err)
	}
}
