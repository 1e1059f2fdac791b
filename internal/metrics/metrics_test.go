package metrics

import (
	"testing"
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTask(t *testing.T) {
	before := testutil.ToFloat64(tasksTotal.WithLabelValues("metrics_test", OutcomeSuccess))
	RecordTask("metrics_test", OutcomeSuccess, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(tasksTotal.WithLabelValues("metrics_test", OutcomeSuccess)))
}

func TestAddRowsImported(t *testing.T) {
	before := testutil.ToFloat64(rowsImported)
	AddRowsImported(5)
	AddRowsImported(0)
	assert.Equal(t, before+5, testutil.ToFloat64(rowsImported))
}

func TestSetJobCounts(t *testing.T) {
	SetJobCounts(map[state.JobStatus]int{state.StatusPending: 3, state.StatusFailed: 1})
	assert.Equal(t, float64(3), testutil.ToFloat64(jobsByStatus.WithLabelValues("PENDING")))
	assert.Equal(t, float64(1), testutil.ToFloat64(jobsByStatus.WithLabelValues("FAILED")))

	SetJobCounts(map[state.JobStatus]int{state.StatusSuccess: 2})
	assert.Equal(t, float64(0), testutil.ToFloat64(jobsByStatus.WithLabelValues("PENDING")))
	assert.Equal(t, float64(2), testutil.ToFloat64(jobsByStatus.WithLabelValues("SUCCESS")))
}
