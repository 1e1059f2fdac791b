package mocks

import (
	"context"
	"sync"
)

// EnqueuedTask is one call recorded by MockDispatcher.
type EnqueuedTask struct {
	Name    string
	Payload any
}

// MockDispatcher is a mock implementation of dispatch.Dispatcher for testing.
type MockDispatcher struct {
	EnqueueFunc func(ctx context.Context, taskName string, payload any) error

	mu    sync.Mutex
	Tasks []EnqueuedTask
}

func (m *MockDispatcher) Enqueue(ctx context.Context, taskName string, payload any) error {
	m.mu.Lock()
	m.Tasks = append(m.Tasks, EnqueuedTask{Name: taskName, Payload: payload})
	m.mu.Unlock()

	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, taskName, payload)
	}
	return nil
}
