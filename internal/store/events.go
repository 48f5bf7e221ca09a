package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// AppendEvent durably records a lifecycle event on the events stream,
// trimmed approximately to maxEventsStreamLen so the stream does not grow
// unbounded; consumer groups that fall behind this trim window lose the
// oldest entries, which is an accepted tradeoff for an at-least-once,
// not exactly-once, event contract.
func (s *Store) AppendEvent(ctx context.Context, ev jobmodel.Event) (string, error) {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: keyEventsStream,
		MaxLen: maxEventsStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         ev.ID,
			"event_type": string(ev.EventType),
			"subject_id": ev.SubjectID,
			"timestamp":  ev.Timestamp.Format(eventTimeLayout),
			"payload":    string(ev.Payload),
		},
	}).Result()
}

const maxEventsStreamLen = 100_000
const eventTimeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// EnsureConsumerGroup creates the named consumer group on the events stream
// if it does not already exist, starting from the stream's beginning (so a
// late-subscribing monitor can replay history up to the trim window).
func (s *Store) EnsureConsumerGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, keyEventsStream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ReadGroup reads up to count new events for the given group/consumer,
// blocking up to block for new entries.
func (s *Store) ReadGroup(ctx context.Context, group, consumer string, count int64, block int64) ([]redis.XStream, error) {
	return s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{keyEventsStream, ">"},
		Count:    count,
		Block:    msToDuration(block),
	}).Result()
}

// AckEvent acknowledges a delivered event for the given group.
func (s *Store) AckEvent(ctx context.Context, group, id string) error {
	return s.rdb.XAck(ctx, keyEventsStream, group, id).Err()
}

// ClaimStale claims events idle for longer than minIdle under the given
// group, reassigning them to consumer, so a consumer that reconnects under a
// new name can take over its predecessor's unacked entries. Nothing in this
// repository calls it.
func (s *Store) ClaimStale(ctx context.Context, group, consumer string, minIdle int64, count int64) ([]redis.XMessage, string, error) {
	pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: keyEventsStream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, "", err
	}
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil, "0", nil
	}
	msgs, err := s.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   keyEventsStream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  msToDuration(minIdle),
		Messages: ids,
	}).Result()
	return msgs, "0", err
}
