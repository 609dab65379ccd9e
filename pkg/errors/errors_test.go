package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, appErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, appErr.Error(), "db connection lost")

	bare := &AppError{Code: "NOT_FOUND", Message: "product not found"}
	assert.Equal(t, "NOT_FOUND: product not found", bare.Error())
}

func TestNotFound(t *testing.T) {
	err := NotFound("product", "amox-250")
	require.NotNil(t, err)
	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Contains(t, err.Message, "amox-250")
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConflict(t *testing.T) {
	err := Conflict("cart already checked out")
	assert.Equal(t, "CONFLICT", err.Code)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestUnavailable_KeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")
	err := Unavailable(cause)

	assert.Equal(t, "PERSISTENCE_FAILURE", err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.True(t, errors.Is(err, ErrServiceUnavail))
	assert.True(t, errors.Is(err, cause))
	assert.NotContains(t, err.Message, "10.0.0.5")
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := Conflict("not enough stock")
	detailed := base.WithDetails(map[string]int{"available": 6})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]int{"available": 6}, detailed.Details)
	assert.Equal(t, base.Code, detailed.Code)
}

func TestIsDomain(t *testing.T) {
	assert.True(t, IsDomain(InvalidInput("bad")))
	assert.True(t, IsDomain(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.False(t, IsDomain(fmt.Errorf("connection reset by peer")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", InvalidInput("x"), http.StatusBadRequest},
		{"wrapped not found", Wrap(ErrNotFound, "get product"), http.StatusNotFound},
		{"conflict sentinel", ErrConflict, http.StatusConflict},
		{"already exists", ErrAlreadyExists, http.StatusConflict},
		{"unavailable sentinel", ErrServiceUnavail, http.StatusServiceUnavailable},
		{"internal", Internal(fmt.Errorf("boom")), http.StatusInternalServerError},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
