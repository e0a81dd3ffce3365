package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionError(t *testing.T) {
	err := Transition("batch", "b-1", "PENDING", "COMPLETED")

	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, "batch b-1: cannot move from PENDING to COMPLETED", err.Error())

	var te *TransitionError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &te))
	assert.Equal(t, "COMPLETED", te.To)
}

func TestTransitionBecause(t *testing.T) {
	err := TransitionBecause("batch", "b-2", "RUNNING", "ROLLED_BACK", "no successful books")
	assert.Contains(t, err.Error(), "no successful books")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNotFoundAndInvalid(t *testing.T) {
	assert.ErrorIs(t, NotFound("run", "r-1"), ErrNotFound)
	assert.EqualError(t, NotFound("run", "r-1"), "run r-1: not found")

	err := Invalid("node index %d out of range", 7)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "node index 7")
}
