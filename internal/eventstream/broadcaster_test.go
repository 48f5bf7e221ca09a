package eventstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/protocol"
	"github.com/flowmesh/jobbroker/internal/store"
)

type fakeSink struct {
	mu  sync.Mutex
	got []protocol.Envelope
}

func (f *fakeSink) Broadcast(role protocol.Role, env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, env)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func newTestStoreForStream(t *testing.T) (*store.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewForTest(rdb), func() {
		rdb.Close()
		mr.Close()
	}
}

func TestBroadcasterPushesAndAcksEvents(t *testing.T) {
	st, cleanup := newTestStoreForStream(t)
	defer cleanup()
	sink := &fakeSink{}
	b := New(st, sink, zap.NewNop(), "test-consumer")

	_, err := st.AppendEvent(context.Background(), jobmodel.Event{
		ID:        "ev-1",
		EventType: jobmodel.EventJobSubmitted,
		SubjectID: "job-1",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = b.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)

	replay, ok := b.ReplaySince("")
	require.True(t, ok)
	require.Len(t, replay, 1)
	assert.Equal(t, "ev-1", replay[0].ID)
}

func TestReplaySinceAfterUnknownIDReportsMiss(t *testing.T) {
	b := &Broadcaster{ring: []jobmodel.Event{{ID: "ev-1"}}}
	_, ok := b.ReplaySince("never-seen")
	assert.False(t, ok)
}
