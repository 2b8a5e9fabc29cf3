package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := Conflict("request %s already assigned", "r1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "conflict: request r1 already assigned", err.Error())
}

func TestNoBedsIsConflict(t *testing.T) {
	assert.True(t, errors.Is(ErrNoBeds, ErrConflict))
}
