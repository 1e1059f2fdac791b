package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/message_broaker"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Dispatcher hands a task to whatever runs it.
type Dispatcher interface {
	Enqueue(ctx context.Context, taskName string, payload any) error
}

// Envelope is the broker message carrying one task invocation.
type Envelope struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewEnvelope(task string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload of %s: %w", task, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Task:       task,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// InlineDispatcher runs tasks synchronously in the caller's goroutine, retries
// included. Task failures are logged and not returned; they are visible through
// the job status only.
type InlineDispatcher struct {
	registry *Registry
	executor *Executor
}

func NewInlineDispatcher(registry *Registry, executor *Executor) *InlineDispatcher {
	return &InlineDispatcher{registry: registry, executor: executor}
}

func (d *InlineDispatcher) Enqueue(ctx context.Context, taskName string, payload any) error {
	if !d.registry.Exists(taskName) {
		return fmt.Errorf("handler '%s' not found", taskName)
	}
	env, err := NewEnvelope(taskName, payload)
	if err != nil {
		return err
	}

	// the task outlives a cancelled request, as it would on a broker
	runCtx := context.WithoutCancel(ctx)
	if err := d.executor.Execute(runCtx, env.Task, env.Payload); err != nil {
		log.WithFields(log.Fields{"task": taskName, "envelope_id": env.ID}).
			Errorf("inline task failed: %v", err)
	}
	return nil
}

// BrokerDispatcher publishes envelopes for a Worker to pick up.
type BrokerDispatcher struct {
	broker     message_broaker.MessageBroker
	queue      string
	bestEffort bool
}

type BrokerDispatcherOption func(*BrokerDispatcher)

// WithBestEffort logs and swallows publish failures instead of returning them.
// Only meant for brokers that are not durable anyway.
func WithBestEffort() BrokerDispatcherOption {
	return func(d *BrokerDispatcher) {
		d.bestEffort = true
	}
}

func NewBrokerDispatcher(broker message_broaker.MessageBroker, queue string, opts ...BrokerDispatcherOption) *BrokerDispatcher {
	d := &BrokerDispatcher{broker: broker, queue: queue}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *BrokerDispatcher) Enqueue(ctx context.Context, taskName string, payload any) error {
	env, err := NewEnvelope(taskName, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := d.broker.Publish(ctx, d.queue, body); err != nil {
		if d.bestEffort {
			log.WithFields(log.Fields{"task": taskName, "queue": d.queue}).
				Errorf("publish failed, task dropped: %v", err)
			return nil
		}
		return custom_errors.NewBrokerError(0, err)
	}

	log.WithFields(log.Fields{"task": taskName, "queue": d.queue, "envelope_id": env.ID}).Debug("task enqueued")
	return nil
}
