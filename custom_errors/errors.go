package custom_errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a job cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyExists is returned when a username is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ParseError reports a malformed or unreadable source. Re-parsing the same source fails identically.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func NewParseError(source string, line int, err error) *ParseError {
	return &ParseError{Source: source, Line: line, Err: err}
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StoreError wraps a persistence failure. It is treated as transient.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// BrokerError wraps an enqueue failure. JobID is set when the job was created before the failure.
type BrokerError struct {
	JobID int64
	Err   error
}

func NewBrokerError(jobID int64, err error) *BrokerError {
	return &BrokerError{JobID: jobID, Err: err}
}

func (e *BrokerError) Error() string {
	if e.JobID > 0 {
		return fmt.Sprintf("enqueue job %d: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("enqueue: %v", e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func IsBrokerError(err error) bool {
	var be *BrokerError
	return errors.As(err, &be)
}
