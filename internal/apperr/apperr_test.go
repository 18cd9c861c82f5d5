package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_PreservesSentinel(t *testing.T) {
	err := Wrap("get project", ErrNotFound)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get project")
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.NoError(t, Wrap("noop", nil))
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{ErrInvalidArgument, CodeInvalidArgument},
		{ErrEmbeddingDimMismatch, CodeInvalidArgument},
		{ErrNotFound, CodeNotFound},
		{ErrConflict, CodeConflict},
		{ErrDependencyCycle, CodePreconditionFailed},
		{ErrDeadlineExceeded, CodeDeadlineExceeded},
		{ErrCancelled, CodeCancelled},
		{ErrResourceExhausted, CodeResourceExhausted},
		{ErrUnavailable, CodeUnavailable},
		{errors.New("mystery"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CodeOf(tc.err))
	}
}

func TestCodeOf_WrappedError(t *testing.T) {
	err := Wrapf(ErrConflict, "promoting memory %d", 42)
	assert.Equal(t, CodeConflict, CodeOf(err))
}
