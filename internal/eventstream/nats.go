package eventstream

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// NATSSink republishes every broadcast event to a NATS JetStream subject, for
// downstream consumers (orchestrators, billing, capacity planning) that want
// durable delivery without speaking the hub's websocket protocol. Grounded
// on the teacher's internal/event-hooks NATSPublisher, narrowed from a
// per-subscription delivery target to one configured secondary fan-out.
type NATSSink struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSSink connects to url and resolves a JetStream context. The stream
// backing subject must already exist (provisioned out of band, same as the
// teacher's deployment assumes for its JetStream subjects).
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return &NATSSink{conn: conn, js: js, subject: subject}, nil
}

// Publish sends ev to the configured subject with header metadata mirroring
// the teacher's webhook delivery headers, for consumers that filter on
// headers without decoding the body.
func (s *NATSSink) Publish(ev jobmodel.Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: s.subject,
		Data:    payload,
		Header:  make(nats.Header),
	}
	msg.Header.Set("Event-Type", string(ev.EventType))
	msg.Header.Set("Subject-ID", ev.SubjectID)
	msg.Header.Set("Timestamp", ev.Timestamp.Format(time.RFC3339))
	_, err = s.js.PublishMsg(msg)
	return err
}

// Close drains and closes the underlying NATS connection.
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
