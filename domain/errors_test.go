package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("match: %w", NotFound(OpLoadJobEmbedding, errors.New("no row")))

	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindStoreFailure))
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.False(t, errors.Is(err, ErrBatchNotFound))
}

func TestStoreFailureIsNotNotFound(t *testing.T) {
	err := StoreFailure(OpLoadJobEmbedding, errors.New("connection refused"))

	assert.Equal(t, KindStoreFailure, KindOf(err))
	assert.False(t, errors.Is(err, ErrJobNotFound))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindNotFound))
}
