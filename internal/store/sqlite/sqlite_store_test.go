package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/db"
	"github.com/RezaEskandarii/csvimport/internal/lock"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.SQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.Init(context.Background(), conn, db.SQLite, lock.NewLocalLockManager()))
	return conn
}

func strPtr(s string) *string { return &s }

func newJob(t *testing.T, s *SQLiteJobStore) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), &types.Job{
		SourceRef: "uploads/abc.csv",
		Format:    types.FormatCSV,
		FileName:  "people.csv",
	})
	require.NoError(t, err)
	return id
}

func TestSQLiteJobStore_CreateAndFind(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()

	id := newJob(t, s)
	assert.Positive(t, id)

	job, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, job.Status)
	assert.Equal(t, "people.csv", job.FileName)
	assert.Nil(t, job.ErrorDetail)
	assert.Nil(t, job.OwnerID)
	assert.False(t, job.CreatedAt.IsZero())

	_, err = s.FindByID(ctx, id+100)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestSQLiteJobStore_TransitionLifecycle(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()
	id := newJob(t, s)

	job, err := s.Transition(ctx, id, state.StatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)

	job, err = s.Transition(ctx, id, state.StatusFailed, strPtr("bad line"))
	require.NoError(t, err)
	assert.Equal(t, "bad line", *job.ErrorDetail)

	_, err = s.Transition(ctx, id, state.StatusSuccess, nil)
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition, "FAILED cannot jump to SUCCESS")

	job, err = s.Transition(ctx, id, state.StatusProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	_, err = s.Transition(ctx, id+100, state.StatusProcessing, nil)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestSQLiteJobStore_CompleteWithRowsReplacesPriorAttempt(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()
	id := newJob(t, s)

	_, err := s.Transition(ctx, id, state.StatusProcessing, nil)
	require.NoError(t, err)

	// rows left behind by an interrupted attempt
	inserted, err := s.AppendRows(ctx, id, []types.Row{{Name: strPtr("stale")}, {Name: strPtr("stale2")}})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	inserted, err = s.AppendRows(ctx, id, []types.Row{{Ordinal: 1, Name: strPtr("dup")}})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted, "same ordinal is skipped")

	rows := []types.Row{
		{Name: strPtr("Ada"), Role: strPtr("Engineer")},
		{Name: strPtr("Bob")},
		{Location: strPtr("Paris"), ExtraInfo: strPtr("x")},
	}
	inserted, err = s.CompleteWithRows(ctx, id, rows)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	stored, err := s.RowsForJob(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "Ada", *stored[0].Name)
	assert.Nil(t, stored[1].Role)
	assert.Nil(t, stored[2].Name)
	assert.Equal(t, 3, stored[2].Ordinal)

	job, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.Nil(t, job.ErrorDetail)
}

func TestSQLiteJobStore_CompleteWithRowsFailingMidInsertKeepsNothing(t *testing.T) {
	conn := openTestDB(t)
	s := NewSQLiteJobStore(conn)
	ctx := context.Background()
	id := newJob(t, s)

	_, err := s.Transition(ctx, id, state.StatusProcessing, nil)
	require.NoError(t, err)
	_, err = s.AppendRows(ctx, id, []types.Row{{Name: strPtr("earlier")}})
	require.NoError(t, err)

	// the second insert batch hits this row
	failAt := insertBatchSize + 10
	_, err = conn.ExecContext(ctx, fmt.Sprintf(`
		CREATE TRIGGER fail_row_insert BEFORE INSERT ON job_rows
		WHEN NEW.ordinal = %d
		BEGIN
			SELECT RAISE(ABORT, 'disk full');
		END`, failAt))
	require.NoError(t, err)

	rows := make([]types.Row, insertBatchSize+20)
	for i := range rows {
		rows[i] = types.Row{Name: strPtr(fmt.Sprintf("user%d", i))}
	}
	_, err = s.CompleteWithRows(ctx, id, rows)
	require.Error(t, err)
	var storeErr *custom_errors.StoreError
	assert.ErrorAs(t, err, &storeErr)

	stored, err := s.RowsForJob(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 1, "first batch and row clearing are rolled back")
	assert.Equal(t, "earlier", *stored[0].Name)

	job, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusProcessing, job.Status)
}

func TestSQLiteJobStore_CompleteWithRowsRequiresProcessing(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()
	id := newJob(t, s)

	_, err := s.CompleteWithRows(ctx, id, []types.Row{{Name: strPtr("Ada")}})
	assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition)

	stored, err := s.RowsForJob(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stored, "rolled back")
}

func TestSQLiteJobStore_SuccessIsNeverLeft(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()
	id := newJob(t, s)

	_, err := s.Transition(ctx, id, state.StatusProcessing, nil)
	require.NoError(t, err)
	_, err = s.CompleteWithRows(ctx, id, nil)
	require.NoError(t, err)

	for _, to := range state.AllStatuses {
		_, err = s.Transition(ctx, id, to, nil)
		assert.ErrorIs(t, err, custom_errors.ErrInvalidTransition, "SUCCESS -> %s", to)
	}
}

func TestSQLiteJobStore_FindStuckJobsAndCounts(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()

	s.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	stuck := newJob(t, s)
	s.now = func() time.Time { return time.Now().UTC() }
	fresh := newJob(t, s)

	jobs, err := s.FindStuckJobs(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stuck, jobs[0].ID)

	_, err = s.Transition(ctx, fresh, state.StatusProcessing, nil)
	require.NoError(t, err)

	counts, err := s.CountAllJobsGroupedByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[state.StatusPending])
	assert.Equal(t, 1, counts[state.StatusProcessing])
	assert.Equal(t, 0, counts[state.StatusSuccess])
}

func TestSQLiteUserStore(t *testing.T) {
	users := NewSQLiteUserStore(openTestDB(t))
	users.cost = bcrypt.MinCost
	ctx := context.Background()

	id, err := users.Create(ctx, "ada", "secret")
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = users.Create(ctx, "ada", "other")
	assert.True(t, custom_errors.IsAlreadyExists(err))

	user, err := users.Authenticate(ctx, "ada", "secret")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Empty(t, user.Password)

	user, err = users.Authenticate(ctx, "ada", "wrong")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = users.FindByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, user)

	require.NoError(t, users.Delete(ctx, "ada"))
	assert.True(t, custom_errors.IsNotFound(users.Delete(ctx, "ada")))
}

func TestSQLiteJobStore_OwnerAttribution(t *testing.T) {
	conn := openTestDB(t)
	users := NewSQLiteUserStore(conn)
	jobs := NewSQLiteJobStore(conn)
	ctx := context.Background()

	ownerID, err := users.Create(ctx, "ada", "secret")
	require.NoError(t, err)

	id, err := jobs.Create(ctx, &types.Job{OwnerID: &ownerID, SourceRef: "a", Format: types.FormatCSV, FileName: "a.csv"})
	require.NoError(t, err)

	job, err := jobs.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.OwnerID)
	assert.Equal(t, ownerID, *job.OwnerID)
}

func TestSQLiteJobStore_ListJobs(t *testing.T) {
	s := NewSQLiteJobStore(openTestDB(t))
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, newJob(t, s))
	}
	_, err := s.Transition(ctx, ids[0], state.StatusProcessing, nil)
	require.NoError(t, err)

	page, err := s.ListJobs(ctx, 1, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Items, 2)
	assert.Equal(t, ids[2], page.Items[0].ID)
	assert.Equal(t, ids[1], page.Items[1].ID)

	page, err = s.ListJobs(ctx, 2, 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)

	page, err = s.ListJobs(ctx, 1, 10, []state.JobStatus{state.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalItems)

	page, err = s.ListJobs(ctx, 1, 10, []state.JobStatus{state.StatusSuccess, state.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, 0, page.TotalItems)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}
