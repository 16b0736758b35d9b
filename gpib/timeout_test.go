package gpib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutIndex_ExactMatches(t *testing.T) {
	assert.Equal(t, 0, timeoutIndex(0))
	assert.Equal(t, 1, timeoutIndex(10*time.Microsecond))
	assert.Equal(t, 11, timeoutIndex(1*time.Second))
	assert.Equal(t, 17, timeoutIndex(1000*time.Second))
}

func TestTimeoutIndex_RoundsUpToNextEnumValue(t *testing.T) {
	// 15us has no exact match; the next enum value >= it is 30us (index 2).
	assert.Equal(t, 2, timeoutIndex(15*time.Microsecond))
	// 500ms rounds up to 1s (index 11).
	assert.Equal(t, 11, timeoutIndex(500*time.Millisecond))
}

func TestTimeoutIndex_ClampsAboveLargestValue(t *testing.T) {
	assert.Equal(t, 17, timeoutIndex(1_000_000*time.Second))
}
