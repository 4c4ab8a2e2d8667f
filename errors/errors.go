// Package errors provides the structured error type used across the
// ordersync engine, store, and gateway.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure for callers and log processors.
type ErrorCode string

const (
	ErrCodeNetworkFailure ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"
	ErrCodeReplayFailure  ErrorCode = "REPLAY_FAILURE"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeValidation     ErrorCode = "VALIDATION_FAILURE"
)

// Operation identifies the engine operation during which an error occurred.
type Operation string

const (
	OpGetOrders        Operation = "get_orders"
	OpCreateOrder      Operation = "create_order"
	OpUpdateOrder      Operation = "update_order"
	OpDeleteOrder      Operation = "delete_order"
	OpGetNotifications Operation = "get_notifications"
	OpMarkRead         Operation = "mark_notification_read"
	OpSync             Operation = "sync"
	OpReplay           Operation = "replay"
	OpQueue            Operation = "queue"
	OpReconcile        Operation = "reconcile"
	OpStore            Operation = "store"
	OpLoad             Operation = "load"
	OpClear            Operation = "clear"
	OpClose            Operation = "close"
)

// SyncError is the error type returned by ordersync components.
type SyncError struct {
	// Op is the operation during which the error occurred.
	Op Operation

	// Component generated the error (e.g. "store", "gateway", "engine").
	Component string

	// Err is the underlying cause.
	Err error

	// Retryable marks errors worth replaying on a later sync pass.
	Retryable bool

	// Code classifies the failure.
	Code ErrorCode
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// New creates a SyncError for the given operation.
func New(op Operation, err error) *SyncError {
	return &SyncError{Op: op, Err: err}
}

// NewWithComponent creates a SyncError carrying component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Err: err}
}

// NewNetworkError creates a retryable network-related SyncError.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "gateway",
		Err:       cause,
		Retryable: true,
	}
}

// NewStorageError creates a storage-related SyncError.
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewNotFoundError creates a SyncError for a record missing from the cache
// or the server.
func NewNotFoundError(op Operation, component string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNotFound,
		Op:        op,
		Component: component,
		Err:       cause,
	}
}

// NewValidationError creates a non-retryable validation SyncError.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code: ErrCodeValidation,
		Op:   op,
		Err:  cause,
	}
}

// NewRetryable creates a retryable SyncError with no code.
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{Op: op, Err: err, Retryable: true}
}

// IsRetryable reports whether err is a SyncError marked retryable.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == ErrCodeNotFound
	}
	return false
}
