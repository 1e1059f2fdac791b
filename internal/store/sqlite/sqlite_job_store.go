package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	log "github.com/sirupsen/logrus"
)

// Well below SQLITE_MAX_VARIABLE_NUMBER at six parameters per row.
const insertBatchSize = 500

const jobColumns = `id, owner_id, source_ref, format, file_name, status, error_detail, attempts, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteJobStore keeps jobs in a single SQLite database file. Timestamps are
// written by the store in UTC.
type SQLiteJobStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ store.JobStore = (*SQLiteJobStore)(nil)

func (s *SQLiteJobStore) Create(ctx context.Context, job *types.Job) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (owner_id, source_ref, format, file_name, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, job.OwnerID, job.SourceRef, job.Format, job.FileName, state.StatusPending, now, now)
	if err != nil {
		return 0, custom_errors.NewStoreError("create job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, custom_errors.NewStoreError("create job", err)
	}

	job.ID = id
	job.Status = state.StatusPending
	job.Attempts = 0
	job.ErrorDetail = nil
	job.CreatedAt = now
	job.UpdatedAt = now
	return id, nil
}

func (s *SQLiteJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, custom_errors.ErrNotFound)
		}
		return nil, custom_errors.NewStoreError("find job", err)
	}
	return job, nil
}

func (s *SQLiteJobStore) Transition(ctx context.Context, id int64, to state.JobStatus, errorDetail *string) (*types.Job, error) {
	sources := state.SourcesOf(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing moves to %s", custom_errors.ErrInvalidTransition, to)
	}

	increment := 0
	if to == state.StatusProcessing {
		increment = 1
	}

	args := []any{to, errorDetail, increment, s.now(), id}
	for _, src := range sources {
		args = append(args, src)
	}

	query := `
		UPDATE jobs
		SET status = ?, error_detail = ?, attempts = attempts + ?, updated_at = ?
		WHERE id = ? AND status IN (` + placeholders(len(sources)) + `)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NewStoreError("transition job", err)
	}
	return nil, rejectedTransition(ctx, s.db, id, to)
}

func rejectedTransition(ctx context.Context, q querier, id int64, to state.JobStatus) error {
	var current state.JobStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, custom_errors.ErrNotFound)
		}
		return custom_errors.NewStoreError("read job status", err)
	}
	return fmt.Errorf("job %d %s -> %s: %w", id, current, to, custom_errors.ErrInvalidTransition)
}

func (s *SQLiteJobStore) AppendRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	inserted, err := insertRows(ctx, s.db, jobID, store.NormalizeRows(jobID, rows))
	if err != nil {
		return inserted, custom_errors.NewStoreError("append rows", err)
	}
	return inserted, nil
}

func (s *SQLiteJobStore) CompleteWithRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, custom_errors.NewStoreError("begin complete", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.WithField("job_id", jobID).Warnf("rollback failed: %v", rbErr)
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_rows WHERE job_id = ?`, jobID); err != nil {
		return 0, custom_errors.NewStoreError("clear rows", err)
	}

	inserted, err := insertRows(ctx, tx, jobID, store.NormalizeRows(jobID, rows))
	if err != nil {
		return 0, custom_errors.NewStoreError("insert rows", err)
	}

	sources := state.SourcesOf(state.StatusSuccess)
	args := []any{state.StatusSuccess, s.now(), jobID}
	for _, src := range sources {
		args = append(args, src)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, error_detail = NULL, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(sources))+`)
	`, args...)
	if err != nil {
		return 0, custom_errors.NewStoreError("complete job", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, rejectedTransition(ctx, tx, jobID, state.StatusSuccess)
	}

	if err := tx.Commit(); err != nil {
		return 0, custom_errors.NewStoreError("commit complete", err)
	}
	committed = true
	return inserted, nil
}

func insertRows(ctx context.Context, q querier, jobID int64, rows []types.Row) (int, error) {
	inserted := 0
	for _, batch := range store.Chunk(rows, insertBatchSize) {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO job_rows (job_id, ordinal, name, role, location, extra_info) VALUES `)
		args := make([]any, 0, len(batch)*6)
		for i, row := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?)")
			args = append(args, jobID, row.Ordinal, row.Name, row.Role, row.Location, row.ExtraInfo)
		}
		sb.WriteString(` ON CONFLICT (job_id, ordinal) DO NOTHING`)

		res, err := q.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return inserted, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(affected)
	}
	return inserted, nil
}

func (s *SQLiteJobStore) RowsForJob(ctx context.Context, jobID int64) ([]types.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, ordinal, name, role, location, extra_info
		FROM job_rows
		WHERE job_id = ?
		ORDER BY ordinal ASC
	`, jobID)
	if err != nil {
		return nil, custom_errors.NewStoreError("rows for job", err)
	}
	defer rows.Close()

	result := []types.Row{}
	for rows.Next() {
		var row types.Row
		if err := rows.Scan(&row.ID, &row.JobID, &row.Ordinal, &row.Name, &row.Role, &row.Location, &row.ExtraInfo); err != nil {
			return nil, custom_errors.NewStoreError("scan row", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, custom_errors.NewStoreError("rows for job", err)
	}
	return result, nil
}

func (s *SQLiteJobStore) FindStuckJobs(ctx context.Context, olderThan time.Duration) ([]types.Job, error) {
	cutoff := s.now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN (?, ?) AND updated_at < ?
		ORDER BY updated_at ASC
	`, state.StatusPending, state.StatusProcessing, cutoff)
	if err != nil {
		return nil, custom_errors.NewStoreError("find stuck jobs", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			log.Println("Scan error:", err)
			continue
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, custom_errors.NewStoreError("count jobs", err)
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	return result, rows.Err()
}

func (s *SQLiteJobStore) ListJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error) {
	page, pageSize = types.NormalizePage(page, pageSize, store.MaxListPageSize)
	offset := (page - 1) * pageSize

	where := "1=1"
	args := []any{}
	if len(statuses) > 0 {
		where += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}

	var totalItems int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE `+where, args...).Scan(&totalItems); err != nil {
		return nil, custom_errors.NewStoreError("count jobs", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE `+where+`
		ORDER BY id DESC LIMIT ? OFFSET ?
	`, append(args, pageSize, offset)...)
	if err != nil {
		return nil, custom_errors.NewStoreError("list jobs", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, custom_errors.NewStoreError("list jobs", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, custom_errors.NewStoreError("list jobs", err)
	}
	return types.NewPaginationResult(jobs, totalItems, page, pageSize), nil
}

func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanJob(s rowScanner) (*types.Job, error) {
	var job types.Job
	err := s.Scan(
		&job.ID, &job.OwnerID, &job.SourceRef, &job.Format, &job.FileName,
		&job.Status, &job.ErrorDetail, &job.Attempts, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
