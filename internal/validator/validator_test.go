package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type codec struct{}

func TestValidate(t *testing.T) {
	t.Run("will accept present dependencies", func(t *testing.T) {
		assert.NoError(t, Validate("component", zap.NewNop(), "queue-url", 3))
	})

	t.Run("will accept a stateless struct value", func(t *testing.T) {
		assert.NoError(t, Validate("component", codec{}))

		var dep any = statelessImpl{}
		assert.NoError(t, Validate("component", dep))
	})

	t.Run("will reject nil dependencies", func(t *testing.T) {
		assert.Error(t, Validate("component", nil))

		var logger *zap.Logger
		assert.Error(t, Validate("component", logger))

		var fn func() error
		assert.Error(t, Validate("component", fn))
	})

	t.Run("will reject zero scalar dependencies", func(t *testing.T) {
		assert.Error(t, Validate("component", ""))
		assert.Error(t, Validate("component", 0))
	})

	t.Run("will name the component in the error", func(t *testing.T) {
		err := Validate("ack processor", nil)
		assert.ErrorContains(t, err, "ack processor")
	})
}

type statelessImpl struct{}
