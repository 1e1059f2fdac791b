package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/RezaEskandarii/csvimport/custom_errors"
)

// MockSourceStore keeps uploads in memory. It implements source.Store.
type MockSourceStore struct {
	SaveErr error

	mu    sync.Mutex
	files map[string][]byte
	next  int
}

func (m *MockSourceStore) Save(_ context.Context, filename string, r io.Reader) (string, error) {
	if m.SaveErr != nil {
		return "", m.SaveErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.next++
	ref := fmt.Sprintf("mem://%d/%s", m.next, filename)
	m.files[ref] = body
	return ref, nil
}

func (m *MockSourceStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[ref]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", ref, custom_errors.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *MockSourceStore) Remove(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[ref]; !ok {
		return fmt.Errorf("source %s: %w", ref, custom_errors.ErrNotFound)
	}
	delete(m.files, ref)
	return nil
}

// Has reports whether ref is still stored.
func (m *MockSourceStore) Has(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[ref]
	return ok
}

func (m *MockSourceStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}
