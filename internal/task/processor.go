// Package task holds the import task run by the workers.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/constants"
	"github.com/RezaEskandarii/csvimport/internal/delay"
	"github.com/RezaEskandarii/csvimport/internal/dispatch"
	"github.com/RezaEskandarii/csvimport/internal/metrics"
	"github.com/RezaEskandarii/csvimport/internal/parser"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	log "github.com/sirupsen/logrus"
)

const failureWriteTimeout = 5 * time.Second

// Processor imports the source of one job into the job store.
type Processor struct {
	jobs      store.JobStore
	sources   source.Store
	estimator delay.Estimator
	pacer     delay.Pacer
}

type ProcessorOption func(*Processor)

func WithPacer(p delay.Pacer) ProcessorOption {
	return func(proc *Processor) {
		if p != nil {
			proc.pacer = p
		}
	}
}

func WithDelayUnit(unit time.Duration) ProcessorOption {
	return func(proc *Processor) {
		proc.estimator = delay.NewEstimator(unit)
	}
}

func NewProcessor(jobs store.JobStore, sources source.Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		jobs:      jobs,
		sources:   sources,
		estimator: delay.NewEstimator(delay.DefaultUnit),
		pacer:     delay.SleepPacer{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds the processor to its task name.
func Register(registry *dispatch.Registry, p *Processor) error {
	return registry.Register(constants.ProcessCSVTask, p.Handle)
}

// Handle decodes a TaskMessage payload and processes it.
func (p *Processor) Handle(ctx context.Context, payload json.RawMessage) error {
	var msg types.TaskMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return dispatch.Permanent(fmt.Errorf("decode task message: %w", err))
	}
	return p.Process(ctx, msg)
}

// Process runs one delivery of a task message. It is safe to run again for the
// same job: a job that already succeeded is skipped, and a rerun replaces the
// rows of an earlier attempt.
//
// The returned error is wrapped with dispatch.Permanent when another attempt
// would fail the same way.
func (p *Processor) Process(ctx context.Context, msg types.TaskMessage) error {
	logger := log.WithField("job_id", msg.JobID)

	job, err := p.jobs.FindByID(ctx, msg.JobID)
	if err != nil {
		if custom_errors.IsNotFound(err) {
			logger.Warn("job not found, skipping task")
			return nil
		}
		return err
	}
	if job.Status == state.StatusSuccess {
		logger.Info("job already imported, skipping redelivered task")
		return nil
	}

	if _, err := p.jobs.Transition(ctx, job.ID, state.StatusProcessing, nil); err != nil {
		switch {
		case custom_errors.IsNotFound(err):
			logger.Warn("job disappeared, skipping task")
			return nil
		case errors.Is(err, custom_errors.ErrInvalidTransition):
			logger.Infof("job cannot be processed: %v", err)
			return nil
		}
		return err
	}

	ref := msg.SourceLocator
	if ref == "" {
		ref = job.SourceRef
	}
	logger = logger.WithField("source", ref)

	inserted, err := p.importSource(ctx, job, ref)
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	metrics.AddRowsImported(inserted)
	logger.Infof("imported %d rows", inserted)

	p.cleanup(ctx, ref)
	return nil
}

func (p *Processor) importSource(ctx context.Context, job *types.Job, ref string) (int, error) {
	wait, err := p.estimate(ctx, job.Format, ref)
	if err != nil {
		return 0, err
	}
	if err := p.pacer.Wait(ctx, wait); err != nil {
		return 0, err
	}

	rc, err := p.open(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	reader, err := parser.New(job.Format, job.FileName, rc)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	var rows []types.Row
	ordinal := 0
	for record, err := range reader.All() {
		if err != nil {
			return 0, err
		}
		ordinal++
		rows = append(rows, toRow(ordinal, record))
	}

	return p.jobs.CompleteWithRows(ctx, job.ID, rows)
}

// estimate reads the source once to size the delay. Only a missing source is
// an error; any other read failure counts as an empty source.
func (p *Processor) estimate(ctx context.Context, format, ref string) (time.Duration, error) {
	rc, err := p.open(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if format != types.FormatXLSX {
		return p.estimator.Estimate(rc), nil
	}

	lines := 0
	if reader, err := parser.NewXLSXReader(ref, rc); err == nil {
		for reader.Next() {
			lines++
		}
		_ = reader.Close()
	}
	return p.estimator.ForLines(lines), nil
}

func (p *Processor) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := p.sources.Open(ctx, ref)
	if err != nil {
		if custom_errors.IsNotFound(err) {
			return nil, dispatch.Permanent(fmt.Errorf("source unreadable: %w", err))
		}
		return nil, fmt.Errorf("open source: %w", err)
	}
	return rc, nil
}

// fail records cause on the job and classifies it for the executor.
func (p *Processor) fail(ctx context.Context, jobID int64, cause error) error {
	logger := log.WithField("job_id", jobID)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	detail := cause.Error()
	_, err := p.jobs.Transition(writeCtx, jobID, state.StatusFailed, &detail)
	switch {
	case err == nil:
		logger.Warnf("import failed: %v", cause)
	case errors.Is(err, custom_errors.ErrInvalidTransition):
		// an overlapping attempt settled the job first
		current := "unknown"
		if job, findErr := p.jobs.FindByID(writeCtx, jobID); findErr == nil {
			current = job.Status.String()
		}
		logger.Warnf("import failed but job is already %s, failure not recorded: %v", current, cause)
	default:
		logger.Errorf("could not mark job failed, it stays PROCESSING: %v", err)
	}

	if custom_errors.IsParseError(cause) && !dispatch.IsPermanent(cause) {
		return dispatch.Permanent(cause)
	}
	return cause
}

func (p *Processor) cleanup(ctx context.Context, ref string) {
	if err := p.sources.Remove(ctx, ref); err != nil {
		if custom_errors.IsNotFound(err) {
			log.WithField("source", ref).Warn("file to delete no longer exists")
			return
		}
		log.WithField("source", ref).Errorf("could not delete source: %v", err)
	}
}
