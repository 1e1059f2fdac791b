package custom_errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseError(t *testing.T) {
	err := NewParseError("data.csv", 3, io.ErrUnexpectedEOF)
	assert.Equal(t, "parse error in data.csv at line 3: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	wrapped := fmt.Errorf("process: %w", err)
	assert.True(t, IsParseError(wrapped))
	assert.False(t, IsParseError(io.EOF))

	noLine := NewParseError("data.csv", 0, errors.New("empty source"))
	assert.Equal(t, "parse error in data.csv: empty source", noLine.Error())
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("transition", errors.New("connection reset"))
	assert.Equal(t, "store transition: connection reset", err.Error())
	assert.False(t, IsNotFound(err))

	notFound := NewStoreError("find", ErrNotFound)
	assert.True(t, IsNotFound(notFound))
}

func TestBrokerError(t *testing.T) {
	err := NewBrokerError(7, errors.New("connection refused"))
	assert.Equal(t, "enqueue job 7: connection refused", err.Error())
	assert.True(t, IsBrokerError(fmt.Errorf("submit: %w", err)))
	assert.Equal(t, "enqueue: boom", NewBrokerError(0, errors.New("boom")).Error())
}

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	v.Add(errors.New("worker count must be positive"))
	v.Add(errors.New("max attempts must be positive"))
	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "worker count must be positive")
	assert.Contains(t, v.Error(), "max attempts must be positive")

	assert.True(t, IsValidationError(fmt.Errorf("config: %w", v)))
	assert.False(t, IsValidationError(errors.New("plain")))
	assert.True(t, NewValidationError(errors.New("bad")).HasError())
}

func TestSentinelKinds(t *testing.T) {
	err := fmt.Errorf("user %q: %w", "ada", ErrAlreadyExists)
	assert.True(t, IsAlreadyExists(NewStoreError("create user", err)))
	assert.False(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("job 4: %w", ErrNotFound)))
}
