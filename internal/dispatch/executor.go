package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/RezaEskandarii/csvimport/internal/constants"
	"github.com/RezaEskandarii/csvimport/internal/delay"
	"github.com/RezaEskandarii/csvimport/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Executor runs a registered handler with the retry policy: up to maxAttempts
// runs, waiting backoff.Delay(n) between them, stopping early on a Permanent
// error or when ctx is done.
type Executor struct {
	registry    *Registry
	maxAttempts int
	backoff     Backoff
	pacer       delay.Pacer
}

type ExecutorOption func(*Executor)

func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithBackoff(b Backoff) ExecutorOption {
	return func(e *Executor) {
		if b != nil {
			e.backoff = b
		}
	}
}

// WithRetryPacer replaces the wait between attempts.
func WithRetryPacer(p delay.Pacer) ExecutorOption {
	return func(e *Executor) {
		if p != nil {
			e.pacer = p
		}
	}
}

func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		maxAttempts: constants.DefaultMaxAttempts,
		backoff:     DefaultBackoff(),
		pacer:       delay.SleepPacer{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Execute returns nil on success, otherwise the error of the last attempt.
// An unknown task name is a permanent error.
func (e *Executor) Execute(ctx context.Context, task string, payload json.RawMessage) error {
	handler, err := e.registry.Get(task)
	if err != nil {
		return Permanent(err)
	}

	logger := log.WithField("task", task)

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		start := time.Now()
		lastErr = e.run(ctx, handler, payload)
		elapsed := time.Since(start)

		if lastErr == nil {
			metrics.RecordTask(task, metrics.OutcomeSuccess, elapsed)
			return nil
		}

		switch {
		case IsPermanent(lastErr):
			metrics.RecordTask(task, metrics.OutcomePermanent, elapsed)
			logger.WithField("attempt", attempt).Errorf("task failed permanently: %v", lastErr)
			return lastErr
		case ctx.Err() != nil:
			metrics.RecordTask(task, metrics.OutcomeCancelled, elapsed)
			return lastErr
		case attempt == e.maxAttempts:
			metrics.RecordTask(task, metrics.OutcomeExhausted, elapsed)
			logger.WithField("attempts", attempt).Errorf("task failed, retries exhausted: %v", lastErr)
			return lastErr
		}

		metrics.RecordTask(task, metrics.OutcomeRetry, elapsed)
		wait := e.backoff.Delay(attempt)
		logger.WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": e.maxAttempts,
			"delay":        wait,
		}).Warnf("task failed, retrying: %v", lastErr)

		if err := e.pacer.Wait(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (e *Executor) run(ctx context.Context, handler Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in task handler: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}
