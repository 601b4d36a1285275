package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation app error", Validation("field %q is not indexed", "Name"), http.StatusBadRequest},
		{"disposed", Disposed("orders"), http.StatusGone},
		{"wrapped not found", fmt.Errorf("loading: %w", ErrNotFound), http.StatusNotFound},
		{"timeout", ErrConcurrencyTimeout, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestCommitUnwrapsBothCauses(t *testing.T) {
	cause := errors.New("disk full")
	err := Commit("orders", cause)

	assert.ErrorIs(t, err, ErrCommit)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "orders")
}
