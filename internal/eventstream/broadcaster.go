// Package eventstream implements the event broadcaster: it consumes the
// durable events stream and fans entries out to connected monitor
// connections, and serves resync requests by replaying from a caller-given
// offset. Grounded on the teacher's internal/event-hooks manager shape
// (a Start/Stop-able component wired to go-redis/v9) generalized from
// webhook/NATS delivery to the hub's own websocket push.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/protocol"
)

// broadcastGroup is the consumer group the broadcaster itself reads under,
// and the only consumer group this repository creates.
const broadcastGroup = "broadcaster"

// ringSize bounds the in-memory replay buffer used for cheap, recent
// resyncs without round-tripping to Redis for the common case of a monitor
// that only missed a few seconds of events.
const ringSize = 1000

// Source is the subset of internal/store.Store the broadcaster depends on.
type Source interface {
	EnsureConsumerGroup(ctx context.Context, group string) error
	ReadGroup(ctx context.Context, group, consumer string, count int64, block int64) ([]goredis.XStream, error)
	AckEvent(ctx context.Context, group, id string) error
}

// Sink receives broadcast envelopes; internal/hub.Hub satisfies this via
// its Broadcast method.
type Sink interface {
	Broadcast(role protocol.Role, env protocol.Envelope)
}

// secondary receives a copy of every event after it is broadcast to
// monitors, for out-of-band consumers (NewNATSSink satisfies this).
type secondary interface {
	Publish(ev jobmodel.Event) error
}

// Broadcaster consumes the durable events stream and republishes each entry
// to every connected monitor.
type Broadcaster struct {
	store     Source
	sink      Sink
	log       *zap.Logger
	consumer  string
	secondary secondary

	mu   sync.Mutex
	ring []jobmodel.Event
}

// New constructs a Broadcaster. consumerName should be stable across
// restarts of a given broker instance so pending entries are reclaimed
// rather than duplicated; in a single-instance deployment the hostname is
// sufficient.
func New(store Source, sink Sink, log *zap.Logger, consumerName string) *Broadcaster {
	return &Broadcaster{store: store, sink: sink, log: log, consumer: consumerName}
}

// WithSecondarySink attaches an optional secondary publish target (NATS
// JetStream) that receives every event alongside the monitor broadcast.
// Publish failures are logged, not fatal, so a down NATS deployment never
// blocks monitor delivery.
func (b *Broadcaster) WithSecondarySink(s secondary) *Broadcaster {
	b.secondary = s
	return b
}

// Run consumes the events stream until ctx is cancelled, broadcasting each
// entry to monitors and acknowledging it once sent.
func (b *Broadcaster) Run(ctx context.Context) error {
	if err := b.store.EnsureConsumerGroup(ctx, broadcastGroup); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := b.store.ReadGroup(ctx, broadcastGroup, b.consumer, 50, 2000)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("read events stream", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				ev, ok := decodeEvent(msg)
				if !ok {
					_ = b.store.AckEvent(ctx, broadcastGroup, msg.ID)
					continue
				}
				b.push(ev)
				_ = b.store.AckEvent(ctx, broadcastGroup, msg.ID)
			}
		}
	}
}

func (b *Broadcaster) push(ev jobmodel.Event) {
	b.mu.Lock()
	b.ring = append(b.ring, ev)
	if len(b.ring) > ringSize {
		b.ring = b.ring[len(b.ring)-ringSize:]
	}
	b.mu.Unlock()

	env, err := protocol.Encode(string(protocol.ServerMsgEvent), ev)
	if err != nil {
		return
	}
	env.ID = ev.ID
	b.sink.Broadcast(protocol.RoleMonitor, env)

	if b.secondary != nil {
		if err := b.secondary.Publish(ev); err != nil {
			b.log.Warn("secondary event sink publish failed", zap.Error(err), zap.String("event_id", ev.ID))
		}
	}
}

// ReplaySince returns every buffered event after afterID, for a monitor's
// resync request. If afterID is not found in the buffer (it has already
// scrolled off), the caller should fall back to a full snapshot instead.
func (b *Broadcaster) ReplaySince(afterID string) ([]jobmodel.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if afterID == "" {
		out := make([]jobmodel.Event, len(b.ring))
		copy(out, b.ring)
		return out, true
	}
	for i, ev := range b.ring {
		if ev.ID == afterID {
			out := make([]jobmodel.Event, len(b.ring)-i-1)
			copy(out, b.ring[i+1:])
			return out, true
		}
	}
	return nil, false
}

func decodeEvent(msg goredis.XMessage) (jobmodel.Event, bool) {
	id, _ := msg.Values["id"].(string)
	evType, _ := msg.Values["event_type"].(string)
	subjectID, _ := msg.Values["subject_id"].(string)
	tsStr, _ := msg.Values["timestamp"].(string)
	payloadStr, _ := msg.Values["payload"].(string)

	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		ts = time.Now().UTC()
	}
	var payload json.RawMessage
	if payloadStr != "" {
		payload = json.RawMessage(payloadStr)
	}
	if id == "" || evType == "" {
		return jobmodel.Event{}, false
	}
	return jobmodel.Event{
		ID:        id,
		EventType: jobmodel.EventType(evType),
		SubjectID: subjectID,
		Timestamp: ts,
		Payload:   payload,
	}, true
}
