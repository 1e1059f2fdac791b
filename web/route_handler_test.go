package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RezaEskandarii/csvimport/client"
	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/delay"
	"github.com/RezaEskandarii/csvimport/internal/dispatch"
	"github.com/RezaEskandarii/csvimport/internal/source"
	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/RezaEskandarii/csvimport/internal/store/memory"
	"github.com/RezaEskandarii/csvimport/internal/task"
	"github.com/RezaEskandarii/csvimport/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	jobs   *memory.JobStore
	users  *memory.UserStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jobs := memory.NewJobStore()
	users := memory.NewUserStore()
	sources, err := source.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	registry := dispatch.NewRegistry()
	require.NoError(t, task.Register(registry, task.NewProcessor(jobs, sources, task.WithPacer(delay.NoopPacer{}))))
	executor := dispatch.NewExecutor(registry, dispatch.WithRetryPacer(delay.NoopPacer{}))
	manager := client.NewImportManager(jobs, sources, dispatch.NewInlineDispatcher(registry, executor))

	_, err = users.Create(context.Background(), "alice", "secret-pw")
	require.NoError(t, err)

	return &testServer{
		router: NewRouteHandler(manager, users, 0).Router(),
		jobs:   jobs,
		users:  users,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["message"], "running")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_Unavailable(t *testing.T) {
	h := NewRouteHandler(nil, memory.NewUserStore(), 0,
		WithHealthCheck(func(context.Context) error { return errors.New("db down") }))

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUploadAndPoll(t *testing.T) {
	s := newTestServer(t)

	req := uploadRequest(t, "people.csv", "name,role,location\nAlice,Dev,Berlin\nBob,Ops,Paris\n")
	req.SetBasicAuth("alice", "secret-pw")
	rec := s.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, uploadMessage, body["message"])
	jobID := int64(body["job_id"].(float64))

	job, err := s.jobs.FindByID(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job.OwnerID)

	rec = s.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/jobs/%d", jobID), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view types.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, jobID, view.ID)
	assert.Equal(t, "people.csv", view.FileName)
	assert.EqualValues(t, "SUCCESS", view.Status)
	assert.Nil(t, view.ErrorDetail)
	require.Len(t, view.Rows, 2)
	assert.Equal(t, "Bob", *view.Rows[1].Name)

	raw := decode(t, rec)
	assert.Contains(t, raw, "csv_data")
	assert.Contains(t, raw, "original_filename")
}

func TestUpload_RequiresCredentials(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(uploadRequest(t, "people.csv", "name\nAlice\n"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := uploadRequest(t, "people.csv", "name\nAlice\n")
	req.SetBasicAuth("alice", "wrong-pw")
	rec = s.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpload_RejectsNonCSV(t *testing.T) {
	s := newTestServer(t)

	req := uploadRequest(t, "notes.txt", "hello")
	req.SetBasicAuth("alice", "secret-pw")
	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], ".csv")
}

func TestUpload_MissingFile(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
	req.SetBasicAuth("alice", "secret-pw")
	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/jobs/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return s.do(req)
	}

	rec := post(`{"username":"bob","password":"hunter22"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bob", decode(t, rec)["username"])

	user, err := s.users.Authenticate(context.Background(), "bob", "hunter22")
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, http.StatusConflict, post(`{"username":"bob","password":"hunter22"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"username":"carol","password":"123"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
}

// stubImporter returns fixed results.
type stubImporter struct {
	submitID      int64
	submitErr     error
	redispatchErr error
}

func (s stubImporter) Submit(context.Context, *int64, string, io.Reader) (int64, error) {
	return s.submitID, s.submitErr
}

func (s stubImporter) GetJob(context.Context, int64) (*types.JobView, error) {
	return nil, errors.New("unexpected")
}

func (s stubImporter) ListJobs(context.Context, int, int, []state.JobStatus) (*types.PaginationResult[types.Job], error) {
	return nil, errors.New("unexpected")
}

func (s stubImporter) Redispatch(context.Context, int64) error {
	return s.redispatchErr
}

func TestUpload_BrokerFailure(t *testing.T) {
	users := memory.NewUserStore()
	_, err := users.Create(context.Background(), "alice", "secret-pw")
	require.NoError(t, err)

	importer := stubImporter{submitID: 9, submitErr: custom_errors.NewBrokerError(9, errors.New("connection refused"))}
	router := NewRouteHandler(importer, users, 0).Router()

	req := uploadRequest(t, "people.csv", "name\nAlice\n")
	req.SetBasicAuth("alice", "secret-pw")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, float64(9), decode(t, rec)["job_id"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/1", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t)

	for _, name := range []string{"a.csv", "b.csv", "c.csv"} {
		req := uploadRequest(t, name, "name\nAlice\n")
		req.SetBasicAuth("alice", "secret-pw")
		require.Equal(t, http.StatusAccepted, s.do(req).Code)
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/jobs?page=1&page_size=2", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page types.PaginationResult[types.Job]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c.csv", page.Items[0].FileName)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/jobs?status=success", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, PageSize, page.PageSize)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/jobs?status=FAILED", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 0, page.TotalItems)
	assert.Empty(t, page.Items)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/jobs?page=922337203685477580", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.TotalItems)
	assert.Empty(t, page.Items)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/jobs?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedispatch(t *testing.T) {
	users := memory.NewUserStore()
	_, err := users.Create(context.Background(), "alice", "secret-pw")
	require.NoError(t, err)

	send := func(importer Importer, path string, auth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if auth {
			req.SetBasicAuth("alice", "secret-pw")
		}
		rec := httptest.NewRecorder()
		NewRouteHandler(importer, users, 0).Router().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send(stubImporter{}, "/jobs/3/redispatch", false).Code)
	assert.Equal(t, http.StatusBadRequest, send(stubImporter{}, "/jobs/x/redispatch", true).Code)

	rec := send(stubImporter{}, "/jobs/3/redispatch", true)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["job_id"])

	done := stubImporter{redispatchErr: fmt.Errorf("job 3 is SUCCESS: %w", custom_errors.ErrInvalidTransition)}
	assert.Equal(t, http.StatusConflict, send(done, "/jobs/3/redispatch", true).Code)

	down := stubImporter{redispatchErr: custom_errors.NewBrokerError(3, errors.New("connection refused"))}
	assert.Equal(t, http.StatusServiceUnavailable, send(down, "/jobs/3/redispatch", true).Code)
}
