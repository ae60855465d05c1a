package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := E(ErrFetchFailed, "fetch page", cause)

	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExtractor)
	assert.Equal(t, "fetch page: fetch failed: dial tcp: refused", err.Error())

	wrapped := fmt.Errorf("run: %w", err)
	assert.ErrorIs(t, wrapped, ErrFetchFailed)
	assert.True(t, Retryable(wrapped))
	assert.Equal(t, ErrFetchFailed, Kind(wrapped))
}

func TestErrorFormats(t *testing.T) {
	assert.Equal(t, "not found", E(ErrNotFound, "", nil).Error())
	assert.Equal(t, "get: not found", E(ErrNotFound, "get", nil).Error())
	assert.Equal(t, "invalid filter: keep_last must be positive",
		Ef(ErrInvalidFilter, "", "keep_last must be positive").Error())
}

func TestRetryableOnlyForFetch(t *testing.T) {
	assert.False(t, Retryable(E(ErrInvalidConfig, "x", nil)))
	assert.False(t, Retryable(nil))
	assert.Nil(t, Kind(errors.New("plain")))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "duplicate key", Message(Ef(ErrConstraintViolation, "send", "duplicate key")))
	assert.Equal(t, "plain", Message(errors.New("plain")))
	assert.Equal(t, "", Message(nil))
}
