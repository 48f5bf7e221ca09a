package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMarshalRoundTrip(t *testing.T) {
	payload := RegisterPayload{WorkerID: "w-1", Services: []string{"render"}}
	env, err := Encode(string(WorkerMsgRegister), payload)
	require.NoError(t, err)
	assert.Equal(t, string(WorkerMsgRegister), env.Type)
	assert.False(t, env.Timestamp.IsZero())

	b, err := env.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(b), "\"type\":\"register\"")
	assert.Contains(t, string(b), "\"worker_id\":\"w-1\"")
}

func TestEncodePropagatesMarshalErrors(t *testing.T) {
	_, err := Encode("bad", make(chan int))
	assert.Error(t, err)
}
