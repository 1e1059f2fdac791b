package postgres

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
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// Postgres accepts at most 65535 bind parameters per statement, six per row.
const insertBatchSize = 1000

const jobColumns = `id, owner_id, source_ref, format, file_name, status, error_detail, attempts, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

var _ store.JobStore = (*PostgresJobStore)(nil)

func (r *PostgresJobStore) Create(ctx context.Context, job *types.Job) (int64, error) {
	query := `
		INSERT INTO csvimport.jobs (owner_id, source_ref, format, file_name, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, now(), now())
		RETURNING id, created_at, updated_at
	`
	var id int64
	var createdAt, updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		job.OwnerID,
		job.SourceRef,
		job.Format,
		job.FileName,
		state.StatusPending,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return 0, custom_errors.NewStoreError("create job", err)
	}

	job.ID = id
	job.Status = state.StatusPending
	job.Attempts = 0
	job.ErrorDetail = nil
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	return id, nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id int64) (*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM csvimport.jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %d: %w", id, custom_errors.ErrNotFound)
		}
		return nil, custom_errors.NewStoreError("find job", err)
	}
	return job, nil
}

func (r *PostgresJobStore) Transition(ctx context.Context, id int64, to state.JobStatus, errorDetail *string) (*types.Job, error) {
	sources := state.SourcesOf(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing moves to %s", custom_errors.ErrInvalidTransition, to)
	}

	increment := 0
	if to == state.StatusProcessing {
		increment = 1
	}

	query := `
		UPDATE csvimport.jobs
		SET status = $1,
		    error_detail = $2,
		    attempts = attempts + $3,
		    updated_at = now()
		WHERE id = $4 AND status = ANY($5)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query,
		to,
		errorDetail,
		increment,
		id,
		pq.Array(store.StatusesAsStrings(sources)),
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.NewStoreError("transition job", err)
	}
	return nil, r.rejectedTransition(ctx, r.db, id, to)
}

// rejectedTransition explains why a conditional update matched no row.
func (r *PostgresJobStore) rejectedTransition(ctx context.Context, q execer, id int64, to state.JobStatus) error {
	var current state.JobStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM csvimport.jobs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d: %w", id, custom_errors.ErrNotFound)
		}
		return custom_errors.NewStoreError("read job status", err)
	}
	return fmt.Errorf("job %d %s -> %s: %w", id, current, to, custom_errors.ErrInvalidTransition)
}

func (r *PostgresJobStore) AppendRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	inserted, err := insertRows(ctx, r.db, jobID, store.NormalizeRows(jobID, rows))
	if err != nil {
		return inserted, custom_errors.NewStoreError("append rows", err)
	}
	return inserted, nil
}

func (r *PostgresJobStore) CompleteWithRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
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

	if _, err := tx.ExecContext(ctx, `DELETE FROM csvimport.job_rows WHERE job_id = $1`, jobID); err != nil {
		return 0, custom_errors.NewStoreError("clear rows", err)
	}

	inserted, err := insertRows(ctx, tx, jobID, store.NormalizeRows(jobID, rows))
	if err != nil {
		return 0, custom_errors.NewStoreError("insert rows", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE csvimport.jobs
		SET status = $1, error_detail = NULL, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, state.StatusSuccess, jobID, pq.Array(store.StatusesAsStrings(state.SourcesOf(state.StatusSuccess))))
	if err != nil {
		return 0, custom_errors.NewStoreError("complete job", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return 0, r.rejectedTransition(ctx, tx, jobID, state.StatusSuccess)
	}

	if err := tx.Commit(); err != nil {
		return 0, custom_errors.NewStoreError("commit complete", err)
	}
	committed = true
	return inserted, nil
}

func insertRows(ctx context.Context, q execer, jobID int64, rows []types.Row) (int, error) {
	inserted := 0
	for _, batch := range store.Chunk(rows, insertBatchSize) {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO csvimport.job_rows (job_id, ordinal, name, role, location, extra_info) VALUES `)
		args := make([]any, 0, len(batch)*6)
		for i, row := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			n := i * 6
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
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

func (r *PostgresJobStore) RowsForJob(ctx context.Context, jobID int64) ([]types.Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, ordinal, name, role, location, extra_info
		FROM csvimport.job_rows
		WHERE job_id = $1
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

func (r *PostgresJobStore) FindStuckJobs(ctx context.Context, olderThan time.Duration) ([]types.Job, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM csvimport.jobs
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
	`, pq.Array([]string{string(state.StatusPending), string(state.StatusProcessing)}), cutoff)
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

func (r *PostgresJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM csvimport.jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, custom_errors.NewStoreError("count jobs", err)
	}
	defer rows.Close()

	result := make(map[state.JobStatus]int)
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}

	for _, status := range state.AllStatuses {
		if _, ok := result[status]; !ok {
			result[status] = 0
		}
	}

	return result, nil
}

func (r *PostgresJobStore) ListJobs(ctx context.Context, page, pageSize int, statuses []state.JobStatus) (*types.PaginationResult[types.Job], error) {
	page, pageSize = types.NormalizePage(page, pageSize, store.MaxListPageSize)
	offset := (page - 1) * pageSize

	where := "1=1"
	args := []interface{}{}
	argIndex := 1

	if len(statuses) > 0 {
		placeholders := []string{}
		for _, s := range statuses {
			placeholders = append(placeholders, fmt.Sprintf("$%d", argIndex))
			args = append(args, string(s))
			argIndex++
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	countQuery := `SELECT COUNT(*) FROM csvimport.jobs WHERE ` + where
	selectQuery := `
		SELECT ` + jobColumns + `
		FROM csvimport.jobs
		WHERE ` + where + fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)

	var totalItems int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, custom_errors.NewStoreError("count jobs", err)
	}

	rows, err := r.db.QueryContext(ctx, selectQuery, append(args, pageSize, offset)...)
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

func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

func scanJob(s scanner) (*types.Job, error) {
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
