package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	cause := stderrors.New("pq: connection refused")

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"bad request", NewBadRequest("ops must not be empty", nil), http.StatusBadRequest, "ops must not be empty"},
		{"not found", NewNotFound("Care receiver", nil), http.StatusNotFound, "Care receiver not found"},
		{"conflict", NewConflict("Record has been updated by another user", nil), http.StatusConflict, "Record has been updated by another user"},
		{"internal hides cause", NewInternal(cause), http.StatusInternalServerError, "internal server error"},
		{"wrapped", fmt.Errorf("apply: %w", NewConflict("stale", nil)), http.StatusConflict, "stale"},
		{"plain error", cause, http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := Status(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestHasCodeAndUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := fmt.Errorf("outer: %w", NewInternal(cause))

	assert.True(t, HasCode(err, ErrInternal))
	assert.False(t, HasCode(err, ErrConflict))
	assert.False(t, HasCode(cause, ErrInternal))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "outer: internal server error: boom", err.Error())
}
