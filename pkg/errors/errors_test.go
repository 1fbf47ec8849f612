package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewValidationError("test validation error", cause)

	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Equal(t, "test validation error", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewSpawnError("test error", nil)

	err = err.WithContext("id", "survival")
	err = err.WithContext("pid", 12345)

	assert.Equal(t, "survival", err.Context["id"])
	assert.Equal(t, 12345, err.Context["pid"])
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		error    *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			error:    NewValidationError("test message", nil),
			expected: "validation: test message",
		},
		{
			name:     "error with cause",
			error:    NewPersistenceError("test message", errors.New("cause")),
			expected: "persistence: test message: cause",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.error.Error())
		})
	}
}

func TestDomainError_TypeChecking(t *testing.T) {
	checks := map[ErrorType]func(error) bool{
		ErrorTypeValidation:  IsValidationError,
		ErrorTypeNotFound:    IsNotFoundError,
		ErrorTypeConflict:    IsConflictError,
		ErrorTypeSpawn:       IsSpawnError,
		ErrorTypeIO:          IsIOError,
		ErrorTypePersistence: IsPersistenceError,
		ErrorTypeInternal:    IsInternalError,
	}

	for errType := range checks {
		err := NewDomainError(errType, "boom", nil)
		for checkType, check := range checks {
			assert.Equal(t, errType == checkType, check(err), "type %s checked as %s", errType, checkType)
		}
	}

	assert.False(t, IsValidationError(errors.New("plain")))
}

func TestDomainError_WrappedChain(t *testing.T) {
	inner := NewConflictError("already running", nil)
	wrapped := fmt.Errorf("restart: %w", inner)

	assert.True(t, IsConflictError(wrapped))
	assert.True(t, errors.Is(wrapped, &DomainError{Type: ErrorTypeConflict}))
	assert.False(t, errors.Is(wrapped, &DomainError{Type: ErrorTypeNotFound}))
	assert.Equal(t, ErrorTypeConflict, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewIOError("test error", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	require.NoError(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(NewIOError("first", nil))
	assert.Equal(t, "io: first", collection.Error())

	collection.Add(NewIOError("second", nil))
	assert.Equal(t, "2 errors occurred: io: first", collection.Error())
	assert.Error(t, collection.ToError())
}
