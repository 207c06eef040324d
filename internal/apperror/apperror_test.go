package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("checkout: %w", Conflict("order already paid"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	assert.Equal(t, "order already paid", Message(err))
}

func TestExternalKeepsCause(t *testing.T) {
	cause := errors.New("stripe: connection reset")
	err := External("payment provider unavailable", cause)

	assert.True(t, errors.Is(err, ErrExternalService))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "payment provider unavailable", Message(err))
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "internal server error", Message(err))
}

func TestStatusMapping(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:   Validation("bad"),
		http.StatusUnauthorized: Unauthorized("who"),
		http.StatusForbidden:    Forbidden("no"),
		http.StatusNotFound:     NotFound("gone"),
	}
	for status, err := range cases {
		assert.Equal(t, status, HTTPStatus(err))
	}
}
