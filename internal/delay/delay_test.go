package delay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnits(t *testing.T) {
	tests := []struct {
		lines int
		want  int
	}{
		{0, 10},
		{1, 10},
		{19, 10},
		{20, 10},
		{21, 10},
		{50, 25},
		{99, 49},
		{100, 50},
		{101, 40},
		{5000, 40},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Units(tt.lines), "Units(%d)", tt.lines)
	}
}

func TestCountDataLines(t *testing.T) {
	assert.Equal(t, 0, CountDataLines(strings.NewReader("")))
	assert.Equal(t, 0, CountDataLines(strings.NewReader("name,role\n")))
	assert.Equal(t, 2, CountDataLines(strings.NewReader("name,role\nAda,Dev\nBob,Ops\n")))
	assert.Equal(t, 2, CountDataLines(strings.NewReader("name,role\nAda,Dev\nBob,Ops")))
	assert.Equal(t, 0, CountDataLines(nil))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestCountDataLines_ReadFailureCountsAsZero(t *testing.T) {
	assert.Equal(t, 0, CountDataLines(failingReader{}))
}

func TestEstimator(t *testing.T) {
	var b strings.Builder
	b.WriteString("name\n")
	for i := 0; i < 60; i++ {
		b.WriteString("row\n")
	}

	e := NewEstimator(time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, e.Estimate(strings.NewReader(b.String())))
	assert.Equal(t, 10*time.Millisecond, e.Estimate(failingReader{}))

	assert.Equal(t, 10*time.Second, Estimator{}.ForLines(3), "zero unit falls back to seconds")
	assert.Equal(t, DefaultUnit, NewEstimator(0).Unit)
}

func TestSleepPacer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SleepPacer{}.Wait(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepPacer_Waits(t *testing.T) {
	start := time.Now()
	require.NoError(t, SleepPacer{}.Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRecordingPacer(t *testing.T) {
	p := &RecordingPacer{}
	require.NoError(t, p.Wait(context.Background(), 3*time.Second))
	assert.Equal(t, []time.Duration{3 * time.Second}, p.Waits)
}
