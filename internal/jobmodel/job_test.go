package jobmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeScorePrefersWorkflowPriorityAndDatetime(t *testing.T) {
	wp := int64(9)
	wd := time.Unix(1_700_000_000, 0)
	job := Job{
		Priority:         1,
		CreatedAt:        time.Unix(0, 0),
		WorkflowPriority: &wp,
		WorkflowDatetime: &wd,
	}
	assert.Equal(t, job.CompositeScore(), packScore(9, wd))
}

func TestCompositeScoreFallsBackToJobFields(t *testing.T) {
	created := time.Unix(1_650_000_000, 0)
	job := Job{Priority: 4, CreatedAt: created}
	assert.Equal(t, job.CompositeScore(), packScore(4, created))
}

func TestCapabilityNumberJSONRoundTripAllSentinel(t *testing.T) {
	c := CapabilityNumber{All: true}
	b, err := c.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"all"`, string(b))

	var decoded CapabilityNumber
	assert.NoError(t, decoded.UnmarshalJSON(b))
	assert.True(t, decoded.All)
}

func TestCapabilityNumberJSONRoundTripNumeric(t *testing.T) {
	c := CapabilityNumber{Value: 24}
	b, err := c.MarshalJSON()
	assert.NoError(t, err)

	var decoded CapabilityNumber
	assert.NoError(t, decoded.UnmarshalJSON(b))
	assert.False(t, decoded.All)
	assert.Equal(t, 24.0, decoded.Value)
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, ClampProgress(-5))
	assert.Equal(t, 100, ClampProgress(150))
	assert.Equal(t, 42, ClampProgress(42))
}
