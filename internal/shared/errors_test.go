package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindFraming, KindOf(fmt.Errorf("%w: 50001 > 50000", ErrBodyTooLarge)))
	assert.Equal(t, KindValidation, KindOf(ValidationError(errors.New("bad"))))
	assert.Equal(t, KindIO, KindOf(errors.New("reset by peer")))
}

func TestPublicMessageDropsWrappedDetail(t *testing.T) {
	err := fmt.Errorf("%w: engine returned status 3", ErrInferenceFailed)
	assert.Equal(t, "inference execution failed", PublicMessage(err))
	assert.Equal(t, "internal error", PublicMessage(errors.New("boom")))
}

func TestFailedResult(t *testing.T) {
	res := FailedResult(ErrModelNotInitialized)
	assert.False(t, res.Success)
	assert.Equal(t, -1, res.PredictedClass)
	assert.Equal(t, "model not initialized", res.ErrorMessage)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("abc", 0))
	// "é" is two bytes; a cut inside it backs off to the rune start
	assert.Equal(t, "a", Truncate("aé", 2))
}
