package hotstate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outboundhq/engine/internal/hotstate"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := hotstate.NewCircuitBreaker()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow(), "breaker should stay closed before the threshold")
	}
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_SuccessCloses(t *testing.T) {
	b := hotstate.NewCircuitBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.IsOpen())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestCircuitBreaker_FailureWhileOpenStaysOpen(t *testing.T) {
	b := hotstate.NewCircuitBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.IsOpen())

	// The 30s reset timeout cannot elapse in a unit test, so the breaker
	// never reaches half-open here; this only asserts that a further
	// failure recorded while open leaves it open.
	time.Sleep(time.Millisecond)
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}
