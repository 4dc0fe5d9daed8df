package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeErrorIsMatchesOnCode(t *testing.T) {
	err := ErrNotMember.WrapMsg("send rejected", "conv", "c1")
	assert.True(t, errors.Is(err, ErrNotMember))
	assert.False(t, errors.Is(err, ErrArgs))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotMember))
}

func TestWithDetailDoesNotMutatePredefined(t *testing.T) {
	detailed := ErrArgs.WithDetail("field x missing")
	assert.Contains(t, detailed.Error(), "field x missing")
	assert.NotContains(t, ErrArgs.Error(), "field x missing")
	assert.Equal(t, ErrArgs.Code, detailed.Code)
}

func TestAsCodeError(t *testing.T) {
	require.Nil(t, AsCodeError(nil))

	ce := AsCodeError(ErrEmptyContent.Wrap())
	require.NotNil(t, ce)
	assert.Equal(t, MessageEmptyContent, ce.Code)

	ce = AsCodeError(errors.New("plain failure"))
	require.NotNil(t, ce)
	assert.Equal(t, ServerInternalError, ce.Code)
	assert.Contains(t, ce.Detail, "plain failure")
}

func TestWrapMsgCarriesKeyValues(t *testing.T) {
	err := ErrInternal.WrapMsg("query failed", "coll", "messages", "id", 42)
	assert.Contains(t, err.Error(), "query failed")
	assert.Contains(t, err.Error(), "coll=messages")
	assert.Contains(t, err.Error(), "id=42")
}
