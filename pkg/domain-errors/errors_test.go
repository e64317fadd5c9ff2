package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	base := New(CodeDuplicateVote, "already voted").WithReason("already_voted")
	wrapped := fmt.Errorf("cast vote: %w", base)

	assert.True(t, HasCode(wrapped, CodeDuplicateVote))
	assert.False(t, HasCode(wrapped, CodeConflict))
	assert.Equal(t, "already_voted", ReasonOf(wrapped))
	assert.Equal(t, CodeDuplicateVote, CodeOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Empty(t, ReasonOf(errors.New("boom")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeInternal, "failed to load election")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorsIsMatchesCodeAndMessage(t *testing.T) {
	err := New(CodeUnauthorized, "invalid token")

	require.ErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	assert.False(t, errors.Is(err, New(CodeUnauthorized, "token has expired")))
	assert.True(t, errors.Is(err, &Error{Code: CodeUnauthorized}))
}
