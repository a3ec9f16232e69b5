package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode standardizes the failure categories the engine can discriminate
// on with errors.As, instead of matching on error message text.
type ErrorCode string

const (
	ErrorCodeValidation        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeCycle             ErrorCode = "DEPENDENCY_CYCLE"
	ErrorCodeUnknownTask       ErrorCode = "UNKNOWN_TASK"
	ErrorCodeDanglingDependency ErrorCode = "DANGLING_DEPENDENCY"
	ErrorCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrorCodeTransitionBusy    ErrorCode = "TRANSITION_BUSY"
	ErrorCodeExecutorFailed    ErrorCode = "EXECUTOR_FAILED"
	ErrorCodeTimeout           ErrorCode = "TASK_TIMEOUT"
	ErrorCodeResourceContention ErrorCode = "RESOURCE_CONTENTION"
	ErrorCodePersistence       ErrorCode = "PERSISTENCE_FAILED"
	ErrorCodeCorruptSnapshot   ErrorCode = "CORRUPT_SNAPSHOT"
	ErrorCodeCancelled         ErrorCode = "TASK_CANCELLED"
)

// EngineError is the single wrapped error type used across the engine.
// Callers discriminate with errors.As(err, &target) and compare Code,
// never by matching Error() text.
type EngineError struct {
	Code      ErrorCode
	Component string
	Operation string
	TaskID    string
	Message   string
	Timestamp time.Time
	Cause     error
	Retryable bool
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s/%s task=%s: %s (caused by: %v)", e.Code, e.Component, e.Operation, e.TaskID, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s/%s task=%s: %s", e.Code, e.Component, e.Operation, e.TaskID, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &EngineError{Code: X}) style checks keyed on Code.
func (e *EngineError) Is(target error) bool {
	var te *EngineError
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// NewError constructs an EngineError with the given code and context.
func NewError(code ErrorCode, component, operation, taskID, message string) *EngineError {
	return &EngineError{
		Code:      code,
		Component: component,
		Operation: operation,
		TaskID:    taskID,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: defaultRetryable(code),
	}
}

// WrapError wraps an existing error with engine error context.
func WrapError(err error, code ErrorCode, component, operation, taskID string) *EngineError {
	ee := NewError(code, component, operation, taskID, err.Error())
	ee.Cause = err
	return ee
}

func defaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrorCodeTimeout, ErrorCodeResourceContention, ErrorCodeExecutorFailed:
		return true
	default:
		return false
	}
}

// CycleError reports a dependency cycle detected while mutating the graph,
// carrying the offending cycle as a sequence of task IDs.
type CycleError struct {
	*EngineError
	Path []string
}

// NewCycleError builds a CycleError for the given cycle path.
func NewCycleError(component string, path []string) *CycleError {
	return &CycleError{
		EngineError: NewError(ErrorCodeCycle, component, "add_dependency", "", fmt.Sprintf("cycle detected: %v", path)),
		Path:        path,
	}
}

// UnknownTaskError reports a reference to a task ID the graph has never
// seen, or that was already removed.
type UnknownTaskError struct {
	*EngineError
}

// NewUnknownTaskError builds an UnknownTaskError for taskID.
func NewUnknownTaskError(component, operation, taskID string) *UnknownTaskError {
	return &UnknownTaskError{
		EngineError: NewError(ErrorCodeUnknownTask, component, operation, taskID, "unknown task"),
	}
}

// TransitionError reports an attempt to move a task through an edge the
// state machine does not define.
type TransitionError struct {
	*EngineError
	From State
	To   State
}

// NewTransitionError builds a TransitionError for an illegal from->to move.
func NewTransitionError(component, taskID string, from, to State) *TransitionError {
	return &TransitionError{
		EngineError: NewError(ErrorCodeInvalidTransition, component, "transition", taskID,
			fmt.Sprintf("no transition %s -> %s", from, to)),
		From: from,
		To:   to,
	}
}

// TransitionBusyError reports that a concurrent transition is already in
// flight for the task; callers should fail fast rather than block.
type TransitionBusyError struct {
	*EngineError
}

// NewTransitionBusyError builds a TransitionBusyError for taskID.
func NewTransitionBusyError(component, taskID string) *TransitionBusyError {
	return &TransitionBusyError{
		EngineError: NewError(ErrorCodeTransitionBusy, component, "transition", taskID, "transition already in progress"),
	}
}

// ExecutorError wraps a failure returned by task-provided executor code.
type ExecutorError struct {
	*EngineError
}

// NewExecutorError wraps cause as an ExecutorError for taskID.
func NewExecutorError(component, taskID string, cause error) *ExecutorError {
	return &ExecutorError{
		EngineError: WrapError(cause, ErrorCodeExecutorFailed, component, "execute", taskID),
	}
}

// TimeoutError reports a task exceeding its allotted timeout.
type TimeoutError struct {
	*EngineError
	Timeout time.Duration
}

// NewTimeoutError builds a TimeoutError for taskID that ran past timeout.
func NewTimeoutError(component, taskID string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		EngineError: NewError(ErrorCodeTimeout, component, "execute", taskID, "execution timed out"),
		Timeout:     timeout,
	}
}

// ResourceContentionError reports that a resource class could not satisfy
// a reservation request.
type ResourceContentionError struct {
	*EngineError
	ResourceClass string
}

// NewResourceContentionError builds a ResourceContentionError for taskID.
func NewResourceContentionError(component, taskID, resourceClass string) *ResourceContentionError {
	return &ResourceContentionError{
		EngineError:   NewError(ErrorCodeResourceContention, component, "reserve", taskID, "resource unavailable: "+resourceClass),
		ResourceClass: resourceClass,
	}
}

// PersistenceError reports a failure saving or loading engine state.
type PersistenceError struct {
	*EngineError
}

// NewPersistenceError wraps cause as a PersistenceError.
func NewPersistenceError(component, operation string, cause error) *PersistenceError {
	return &PersistenceError{
		EngineError: WrapError(cause, ErrorCodePersistence, component, operation, ""),
	}
}

// CorruptSnapshotError reports a snapshot whose checksum does not match
// its content.
type CorruptSnapshotError struct {
	*EngineError
	SnapshotID string
}

// NewCorruptSnapshotError builds a CorruptSnapshotError for snapshotID.
func NewCorruptSnapshotError(component, snapshotID string) *CorruptSnapshotError {
	return &CorruptSnapshotError{
		EngineError: NewError(ErrorCodeCorruptSnapshot, component, "load", "", "checksum mismatch"),
		SnapshotID:  snapshotID,
	}
}
