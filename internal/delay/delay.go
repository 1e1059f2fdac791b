// Package delay derives the synthetic processing time of an import from its size.
package delay

import (
	"bufio"
	"context"
	"io"
	"time"
)

const (
	// FloorUnits is used for sources with fewer than MinLines data lines.
	FloorUnits = 10
	// CeilingUnits is used for sources with more than MaxLines data lines.
	CeilingUnits = 40

	MinLines = 20
	MaxLines = 100

	DefaultUnit = time.Second
)

// Units returns the number of delay units for n data lines.
//
// n = 100 yields 50 units while n = 101 yields 40; the step down at the upper
// boundary is intentional and kept as is.
func Units(n int) int {
	switch {
	case n < MinLines:
		return FloorUnits
	case n > MaxLines:
		return CeilingUnits
	default:
		return n / 2
	}
}

// CountDataLines counts the lines of r minus the header line. A read failure counts as zero.
func CountDataLines(r io.Reader) int {
	if r == nil {
		return 0
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := 0
	for scanner.Scan() {
		lines++
	}
	if scanner.Err() != nil {
		return 0
	}
	if lines == 0 {
		return 0
	}
	return lines - 1
}

type Estimator struct {
	Unit time.Duration
}

func NewEstimator(unit time.Duration) Estimator {
	if unit <= 0 {
		unit = DefaultUnit
	}
	return Estimator{Unit: unit}
}

// Estimate reads r to the end and returns the delay for its data line count.
func (e Estimator) Estimate(r io.Reader) time.Duration {
	return e.ForLines(CountDataLines(r))
}

func (e Estimator) ForLines(n int) time.Duration {
	unit := e.Unit
	if unit <= 0 {
		unit = DefaultUnit
	}
	return time.Duration(Units(n)) * unit
}

// Pacer waits out a computed delay.
type Pacer interface {
	Wait(ctx context.Context, d time.Duration) error
}

// SleepPacer blocks for the full duration unless ctx is done first.
type SleepPacer struct{}

func (SleepPacer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoopPacer returns immediately. Used in tests and when the delay is disabled.
type NoopPacer struct{}

func (NoopPacer) Wait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// RecordingPacer remembers the durations it was asked to wait without waiting.
type RecordingPacer struct {
	Waits []time.Duration
}

func (p *RecordingPacer) Wait(ctx context.Context, d time.Duration) error {
	p.Waits = append(p.Waits, d)
	return ctx.Err()
}
