package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"nil", nil, http.StatusOK},
		{"collision", fmt.Errorf("%w: singer1", ErrNameCollision), http.StatusBadRequest},
		{"invalid name", fmt.Errorf("%w: ../x", ErrInvalidName), http.StatusBadRequest},
		{"missing upload", ErrInvalidUpload, http.StatusInternalServerError},
		{"fetch", fmt.Errorf("%w: status 404", ErrFetch), http.StatusInternalServerError},
		{"corrupt", ErrCorruptArchive, http.StatusInternalServerError},
		{"unsafe", ErrUnsafeEntry, http.StatusInternalServerError},
		{"disk", ErrDisk, http.StatusInternalServerError},
		{"not found", ErrModelNotFound, http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "success", ErrorKind(nil))
	assert.Equal(t, "fetch", ErrorKind(fmt.Errorf("%w: %w", ErrFetch, context.Canceled)))
	assert.Equal(t, "unsafe_entry", ErrorKind(fmt.Errorf("extract: %w", ErrUnsafeEntry)))
	assert.Equal(t, "internal", ErrorKind(context.DeadlineExceeded))
}
