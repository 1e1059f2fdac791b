package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/RezaEskandarii/csvimport/internal/message_broaker"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var errDeliveriesClosed = errors.New("broker closed the delivery channel")

// Worker consumes envelopes from one queue and runs up to concurrency of them at once.
type Worker struct {
	broker      message_broaker.MessageBroker
	queue       string
	executor    *Executor
	concurrency int
}

func NewWorker(broker message_broaker.MessageBroker, queue string, executor *Executor, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		broker:      broker,
		queue:       queue,
		executor:    executor,
		concurrency: concurrency,
	}
}

// Run consumes until ctx is done, then waits for in-flight tasks.
// Tasks interrupted by the shutdown are handed back to the broker.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.broker.Consume(ctx, w.queue)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"queue": w.queue, "concurrency": w.concurrency}).Info("worker started")

	sem := semaphore.NewWeighted(int64(w.concurrency))
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.WithField("queue", w.queue).Info("worker stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				if ctx.Err() != nil {
					return nil
				}
				return errDeliveriesClosed
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				if nackErr := d.Nack(true); nackErr != nil {
					log.Errorf("requeue on shutdown: %v", nackErr)
				}
				wg.Wait()
				return nil
			}
			wg.Add(1)

			go w.handle(ctx, sem, &wg, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, sem *semaphore.Weighted, wg *sync.WaitGroup, d message_broaker.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while handling delivery: %v", r)
		}
		sem.Release(1)
		wg.Done()
	}()

	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil || env.Task == "" {
		log.WithField("queue", w.queue).Errorf("dropping malformed envelope: %v", err)
		if err := d.Nack(false); err != nil {
			log.Errorf("nack malformed envelope: %v", err)
		}
		return
	}

	logger := log.WithFields(log.Fields{"task": env.Task, "envelope_id": env.ID})

	err := w.executor.Execute(ctx, env.Task, env.Payload)
	if err != nil && ctx.Err() != nil && !IsPermanent(err) {
		logger.Warn("worker shutting down, task requeued")
		if err := d.Nack(true); err != nil {
			logger.Errorf("requeue: %v", err)
		}
		return
	}

	if err := d.Ack(); err != nil {
		logger.Errorf("ack: %v", err)
	}
}
