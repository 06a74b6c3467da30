package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches wrapped domain error", func(t *testing.T) {
		err := fmt.Errorf("join: %w", New(CodeForbidden, "not your company"))
		assert.True(t, HasCode(err, CodeForbidden))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestMessageOf(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.3:6379: connection refused")

	assert.Equal(t, "location store unavailable", MessageOf(Wrap(cause, CodeUnavailable, "location store unavailable")))
	assert.Equal(t, "internal error", MessageOf(Wrap(cause, CodeInternal, "db failed")))
	assert.Equal(t, "internal error", MessageOf(cause))
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing"))
}
