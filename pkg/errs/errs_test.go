package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap("upsert_node", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "upsert_node")

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "upsert_node", e.Op)
}

func TestWrapfFormatsAroundSentinel(t *testing.T) {
	err := Wrapf("query", ErrInvalidDimension, "got %d, expected %d", 2, 3)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.Contains(t, err.Error(), "got 2, expected 3")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap("op", nil))
}

func TestNestedWrapping(t *testing.T) {
	inner := fmt.Errorf("%w: disk full", ErrStorage)
	err := Wrap("add_documents", Wrap("commit", inner))
	assert.ErrorIs(t, err, ErrStorage)
}
