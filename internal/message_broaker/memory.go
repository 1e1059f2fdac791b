package message_broaker

import (
	"context"
	"sync"
)

const defaultMemoryQueueSize = 1024

// MemoryBroker keeps messages in buffered channels. Messages are lost on exit.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	size   int
	done   chan struct{}
	closed bool
}

func NewMemoryBroker(queueSize int) *MemoryBroker {
	if queueSize <= 0 {
		queueSize = defaultMemoryQueueSize
	}
	return &MemoryBroker{
		queues: make(map[string]chan []byte),
		size:   queueSize,
		done:   make(chan struct{}),
	}
}

func (m *MemoryBroker) queue(name string) (chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBrokerClosed
	}
	q, ok := m.queues[name]
	if !ok {
		q = make(chan []byte, m.size)
		m.queues[name] = q
	}
	return q, nil
}

// Publish blocks while the queue is full, until ctx is done.
func (m *MemoryBroker) Publish(ctx context.Context, queue string, message []byte) error {
	q, err := m.queue(queue)
	if err != nil {
		return err
	}

	body := make([]byte, len(message))
	copy(body, message)

	select {
	case q <- body:
		return nil
	case <-m.done:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume may be called several times for one queue; consumers compete for messages.
func (m *MemoryBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	q, err := m.queue(queue)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for {
			select {
			case body := <-q:
				d := NewDelivery(body, nil, func(requeue bool) error {
					if !requeue {
						return nil
					}
					return m.Publish(context.Background(), queue, body)
				})
				select {
				case out <- d:
				case <-ctx.Done():
					m.requeue(q, body)
					return
				case <-m.done:
					return
				}
			case <-ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()

	return out, nil
}

func (m *MemoryBroker) requeue(q chan []byte, body []byte) {
	select {
	case q <- body:
	default:
	}
}

func (m *MemoryBroker) Durable() bool {
	return false
}

func (m *MemoryBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
