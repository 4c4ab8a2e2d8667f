package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncErrorMessage(t *testing.T) {
	cause := stderrors.New("connection refused")

	err := NewWithComponent(OpSync, "gateway", cause)
	assert.Contains(t, err.Error(), "sync operation failed in gateway component")
	assert.Contains(t, err.Error(), "connection refused")

	bare := New(OpQueue, cause)
	assert.Contains(t, bare.Error(), "queue operation failed")
	assert.NotContains(t, bare.Error(), "component")

	coded := NewNetworkError(OpReplay, cause)
	assert.Contains(t, coded.Error(), "[NETWORK_FAILURE]")
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStorageError(OpStore, cause)

	assert.ErrorIs(t, err, cause)

	var syncErr *SyncError
	assert.ErrorAs(t, fmt.Errorf("outer: %w", err), &syncErr)
	assert.Equal(t, ErrCodeStorageFailure, syncErr.Code)
}

func TestIsRetryable(t *testing.T) {
	cause := stderrors.New("boom")

	assert.True(t, IsRetryable(NewNetworkError(OpReplay, cause)))
	assert.True(t, IsRetryable(NewRetryable(OpSync, cause)))
	assert.False(t, IsRetryable(NewValidationError(OpQueue, cause)))
	assert.False(t, IsRetryable(cause))
	assert.False(t, IsRetryable(nil))

	// Wrapped SyncErrors are still recognized.
	wrapped := fmt.Errorf("pass failed: %w", NewNetworkError(OpSync, cause))
	assert.True(t, IsRetryable(wrapped))
}

func TestIsNotFound(t *testing.T) {
	cause := stderrors.New("no row")

	assert.True(t, IsNotFound(NewNotFoundError(OpLoad, "store", cause)))
	assert.False(t, IsNotFound(NewStorageError(OpLoad, cause)))
	assert.False(t, IsNotFound(cause))

	wrapped := fmt.Errorf("lookup: %w", NewNotFoundError(OpLoad, "gateway", cause))
	assert.True(t, IsNotFound(wrapped))
}
