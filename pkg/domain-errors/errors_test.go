package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("direct code matches", func(t *testing.T) {
		err := New(CodeValidation, "bad date")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("stage failed: %w", New(CodeTimeout, "slow"))
		assert.True(t, HasCode(err, CodeTimeout))
	})

	t.Run("nested coded errors are all visible", func(t *testing.T) {
		inner := New(CodeUnavailable, "rpc down")
		outer := Wrap(inner, CodeInternal, "authorize")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeUnavailable))
		assert.Equal(t, CodeInternal, CodeOf(outer))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("x"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("x")))
	})
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(errors.New("connection refused"), CodeUnavailable, "ledger read")
	assert.Equal(t, "ledger read: connection refused", err.Error())
}
