package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPackScoreOrdersByPriorityFirst(t *testing.T) {
	now := time.Now()
	low := PackScore(1, now)
	high := PackScore(5, now)
	assert.Greater(t, high, low, "higher priority must yield a higher score")
}

func TestPackScoreOrdersEarlierFirstWithinPriority(t *testing.T) {
	earlier := time.Unix(1_700_000_000, 0)
	later := earlier.Add(10 * time.Second)

	earlierScore := PackScore(3, earlier)
	laterScore := PackScore(3, later)
	assert.Greater(t, earlierScore, laterScore, "an earlier timestamp at equal priority must sort first (higher score)")
}

func TestPackScorePriorityDominatesTiebreak(t *testing.T) {
	oldLowPriority := PackScore(1, time.Unix(0, 0))
	newHighPriority := PackScore(2, time.Unix(1_900_000_000, 0))
	assert.Greater(t, newHighPriority, oldLowPriority)
}
