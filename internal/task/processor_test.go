package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/constants"
	"github.com/RezaEskandarii/csvimport/internal/delay"
	"github.com/RezaEskandarii/csvimport/internal/dispatch"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/internal/store/memory"
	"github.com/RezaEskandarii/csvimport/types"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const fiveRows = "name,role,location,extra_info\n" +
	"Alice,Dev,Berlin,\n" +
	"Bob,Ops,Paris,on call\n" +
	"Carol,QA,Rome,\n" +
	"Dan,PM,Oslo,\n" +
	"Eve,Sec,Kyiv,\n"

type fixture struct {
	jobs    *memory.JobStore
	sources *source.LocalStore
	pacer   *delay.RecordingPacer
	proc    *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sources, err := source.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		jobs:    memory.NewJobStore(),
		sources: sources,
		pacer:   &delay.RecordingPacer{},
	}
	f.proc = NewProcessor(f.jobs, f.sources, WithPacer(f.pacer))
	return f
}

func (f *fixture) submit(t *testing.T, filename string, body []byte) (int64, string) {
	t.Helper()
	ref, err := f.sources.Save(context.Background(), filename, bytes.NewReader(body))
	require.NoError(t, err)

	format := types.FormatCSV
	if strings.HasSuffix(filename, ".xlsx") {
		format = types.FormatXLSX
	}
	id, err := f.jobs.Create(context.Background(), &types.Job{SourceRef: ref, Format: format, FileName: filename})
	require.NoError(t, err)
	return id, ref
}

func csvWithLines(n int) []byte {
	var b strings.Builder
	b.WriteString("name,role\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "user%d,dev\n", i)
	}
	return []byte(b.String())
}

func TestProcess_ImportsRowsAndRemovesSource(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "people.csv", []byte(fiveRows))

	err := f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref})
	require.NoError(t, err)

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.Nil(t, job.ErrorDetail)
	assert.Equal(t, 1, job.Attempts)

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Alice", *rows[0].Name)
	assert.Equal(t, "Berlin", *rows[0].Location)
	require.NotNil(t, rows[0].ExtraInfo)
	assert.Equal(t, "", *rows[0].ExtraInfo)
	assert.Equal(t, "on call", *rows[1].ExtraInfo)
	assert.Equal(t, 5, rows[4].Ordinal)

	assert.Equal(t, []time.Duration{10 * time.Second}, f.pacer.Waits)

	_, err = os.Stat(ref)
	assert.True(t, os.IsNotExist(err))
}

func TestProcess_MissingColumnsStayNil(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "names.csv", []byte("name,unknown\nAlice,x\n"))

	require.NoError(t, f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref}))

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", *rows[0].Name)
	assert.Nil(t, rows[0].Role)
	assert.Nil(t, rows[0].Location)
	assert.Nil(t, rows[0].ExtraInfo)
}

func TestProcess_MissingSourceFailsPermanently(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "gone.csv", []byte(fiveRows))
	require.NoError(t, os.Remove(ref))

	err := f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref})
	require.Error(t, err)
	assert.True(t, dispatch.IsPermanent(err))
	assert.True(t, custom_errors.IsNotFound(err))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, "source unreadable")

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProcess_UnknownJobIsSkipped(t *testing.T) {
	f := newFixture(t)
	err := f.proc.Process(context.Background(), types.TaskMessage{JobID: 404, SourceLocator: "nowhere.csv"})
	assert.NoError(t, err)
	assert.Empty(t, f.pacer.Waits)
}

func TestProcess_FallsBackToStoredSourceRef(t *testing.T) {
	f := newFixture(t)
	id, _ := f.submit(t, "people.csv", []byte(fiveRows))

	require.NoError(t, f.proc.Process(context.Background(), types.TaskMessage{JobID: id}))

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestProcess_RedeliveryAfterSuccessIsSkipped(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "people.csv", []byte(fiveRows))
	msg := types.TaskMessage{JobID: id, SourceLocator: ref}

	require.NoError(t, f.proc.Process(context.Background(), msg))
	require.NoError(t, f.proc.Process(context.Background(), msg))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.Equal(t, 1, job.Attempts)

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestProcess_RerunReplacesRowsOfEarlierAttempt(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "people.csv", []byte(fiveRows))

	_, err := f.jobs.Transition(context.Background(), id, state.StatusProcessing, nil)
	require.NoError(t, err)
	_, err = f.jobs.AppendRows(context.Background(), id, []types.Row{{Ordinal: 1}, {Ordinal: 2}, {Ordinal: 9}})
	require.NoError(t, err)

	require.NoError(t, f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref}))

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Alice", *rows[0].Name)
}

func TestProcess_MalformedCSVFailsPermanently(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "broken.csv", []byte("name,role\nAlice,Dev\nBob,De\"v\n"))

	err := f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref})
	require.Error(t, err)
	assert.True(t, dispatch.IsPermanent(err))
	assert.True(t, custom_errors.IsParseError(err))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = os.Stat(ref)
	assert.NoError(t, err, "a failed source is kept for inspection")
}

func TestProcess_EmptySourceFails(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "empty.csv", nil)

	err := f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref})
	require.Error(t, err)
	assert.True(t, dispatch.IsPermanent(err))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
}

// settledStore lets another attempt finish the job right before a failure
// is recorded.
type settledStore struct {
	store.JobStore
}

func (s *settledStore) Transition(ctx context.Context, id int64, to state.JobStatus, detail *string) (*types.Job, error) {
	if to == state.StatusFailed {
		if _, err := s.JobStore.Transition(ctx, id, state.StatusSuccess, nil); err != nil {
			return nil, err
		}
	}
	return s.JobStore.Transition(ctx, id, to, detail)
}

func TestProcess_FailureAfterOverlappingSuccessKeepsSuccess(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	f := newFixture(t)
	proc := NewProcessor(&settledStore{JobStore: f.jobs}, f.sources, WithPacer(f.pacer))
	id, ref := f.submit(t, "empty.csv", nil)

	err := proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref})
	require.Error(t, err)

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)

	var messages []string
	for _, entry := range hook.AllEntries() {
		messages = append(messages, entry.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "job is already SUCCESS, failure not recorded")
	assert.NotContains(t, joined, "it stays PROCESSING")
}

func TestProcess_HeaderOnlySucceedsWithNoRows(t *testing.T) {
	f := newFixture(t)
	id, ref := f.submit(t, "header.csv", []byte("name,role\n"))

	require.NoError(t, f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref}))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.Equal(t, []time.Duration{10 * time.Second}, f.pacer.Waits)
}

func TestProcess_DelayFollowsLineCount(t *testing.T) {
	cases := []struct {
		lines int
		want  time.Duration
	}{
		{lines: 5, want: 10 * time.Second},
		{lines: 60, want: 30 * time.Second},
		{lines: 150, want: 40 * time.Second},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.lines), func(t *testing.T) {
			f := newFixture(t)
			id, ref := f.submit(t, "lines.csv", csvWithLines(tc.lines))

			require.NoError(t, f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref}))
			assert.Equal(t, []time.Duration{tc.want}, f.pacer.Waits)

			rows, err := f.jobs.RowsForJob(context.Background(), id)
			require.NoError(t, err)
			assert.Len(t, rows, tc.lines)
		})
	}
}

func TestProcess_CancelledDuringDelayLeavesJobFailed(t *testing.T) {
	f := newFixture(t)
	f.proc = NewProcessor(f.jobs, f.sources, WithPacer(delay.SleepPacer{}), WithDelayUnit(time.Hour))
	id, ref := f.submit(t, "people.csv", []byte(fiveRows))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.proc.Process(ctx, types.TaskMessage{JobID: id, SourceLocator: ref})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, dispatch.IsPermanent(err))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
}

func TestProcess_ImportsXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	require.NoError(t, book.SetSheetRow(sheet, "A1", &[]any{"name", "role", "location"}))
	require.NoError(t, book.SetSheetRow(sheet, "A2", &[]any{"Alice", "Dev", "Berlin"}))
	require.NoError(t, book.SetSheetRow(sheet, "A3", &[]any{"Bob", "Ops", "Paris"}))
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	f := newFixture(t)
	id, ref := f.submit(t, "people.xlsx", buf.Bytes())

	require.NoError(t, f.proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref}))

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bob", *rows[1].Name)
	assert.Equal(t, "Paris", *rows[1].Location)
	assert.Equal(t, []time.Duration{10 * time.Second}, f.pacer.Waits)
}

// flakyStore fails the first failures calls to CompleteWithRows and records
// every status the job passes through.
type flakyStore struct {
	store.JobStore

	mu       sync.Mutex
	failures int
	statuses []state.JobStatus
}

func (s *flakyStore) Transition(ctx context.Context, id int64, to state.JobStatus, detail *string) (*types.Job, error) {
	job, err := s.JobStore.Transition(ctx, id, to, detail)
	if err == nil {
		s.record(to)
	}
	return job, err
}

func (s *flakyStore) CompleteWithRows(ctx context.Context, jobID int64, rows []types.Row) (int, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return 0, custom_errors.NewStoreError("complete job", errors.New("connection reset"))
	}
	s.mu.Unlock()

	n, err := s.JobStore.CompleteWithRows(ctx, jobID, rows)
	if err == nil {
		s.record(state.StatusSuccess)
	}
	return n, err
}

func (s *flakyStore) record(status state.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func TestProcess_StoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{JobStore: f.jobs, failures: 1}
	proc := NewProcessor(flaky, f.sources, WithPacer(f.pacer))
	id, ref := f.submit(t, "people.csv", []byte(fiveRows))
	msg := types.TaskMessage{JobID: id, SourceLocator: ref}

	err := proc.Process(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, dispatch.IsPermanent(err))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorDetail)
	assert.Contains(t, *job.ErrorDetail, "connection reset")

	require.NoError(t, proc.Process(context.Background(), msg))

	job, err = f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.Nil(t, job.ErrorDetail)
	assert.Equal(t, 2, job.Attempts)

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	assert.Equal(t, []state.JobStatus{
		state.StatusProcessing,
		state.StatusFailed,
		state.StatusProcessing,
		state.StatusSuccess,
	}, flaky.statuses)
}

func TestExecutor_RetriesProcessorUntilImported(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{JobStore: f.jobs, failures: 2}
	proc := NewProcessor(flaky, f.sources, WithPacer(f.pacer))

	registry := dispatch.NewRegistry()
	require.NoError(t, Register(registry, proc))
	executor := dispatch.NewExecutor(registry, dispatch.WithRetryPacer(delay.NoopPacer{}))

	id, ref := f.submit(t, "people.csv", []byte(fiveRows))
	payload, err := json.Marshal(types.TaskMessage{JobID: id, SourceLocator: ref})
	require.NoError(t, err)

	require.NoError(t, executor.Execute(context.Background(), constants.ProcessCSVTask, payload))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.Equal(t, 3, job.Attempts)

	rows, err := f.jobs.RowsForJob(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestExecutor_StopsOnPermanentProcessorError(t *testing.T) {
	f := newFixture(t)
	registry := dispatch.NewRegistry()
	require.NoError(t, Register(registry, f.proc))
	executor := dispatch.NewExecutor(registry, dispatch.WithRetryPacer(delay.NoopPacer{}))

	id, ref := f.submit(t, "gone.csv", []byte(fiveRows))
	require.NoError(t, os.Remove(ref))
	payload, err := json.Marshal(types.TaskMessage{JobID: id, SourceLocator: ref})
	require.NoError(t, err)

	err = executor.Execute(context.Background(), constants.ProcessCSVTask, payload)
	require.Error(t, err)

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestHandle_RejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	err := f.proc.Handle(context.Background(), json.RawMessage(`{"job_id":`))
	require.Error(t, err)
	assert.True(t, dispatch.IsPermanent(err))
}

// vanishingSources deletes the file before the processor cleans it up.
type vanishingSources struct {
	*source.LocalStore
}

func (s vanishingSources) Remove(ctx context.Context, ref string) error {
	_ = os.Remove(ref)
	return s.LocalStore.Remove(ctx, ref)
}

func TestProcess_CleanupNotFoundKeepsSuccess(t *testing.T) {
	f := newFixture(t)
	proc := NewProcessor(f.jobs, vanishingSources{f.sources}, WithPacer(f.pacer))
	id, ref := f.submit(t, "people.csv", []byte(fiveRows))

	require.NoError(t, proc.Process(context.Background(), types.TaskMessage{JobID: id, SourceLocator: ref}))

	job, err := f.jobs.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSuccess, job.Status)
	assert.NoFileExists(t, filepath.Clean(ref))
}
