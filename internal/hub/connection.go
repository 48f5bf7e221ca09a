// Package hub implements the connection hub: the websocket listener that
// workers, clients, and monitors attach to. It binds each connection to
// exactly one protocol.Role for its lifetime, runs a reader and writer
// goroutine per connection (grounded on the teacher's
// goroutine-per-worker-slot idiom in internal/worker), and enforces the
// heartbeat/idle-timeout liveness policy from configuration.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flowmesh/jobbroker/internal/protocol"
)

// Connection wraps one accepted websocket connection bound to a role and
// identity.
type Connection struct {
	ws       *websocket.Conn
	role     protocol.Role
	id       string
	send     chan []byte
	log      *zap.Logger
	lastSeen atomicTime
	limiter  *rate.Limiter

	closeOnce sync.Once
	closed    chan struct{}
}

// newConnection wires limiter (nil for unlimited) to pace outbound frames,
// grounded on the teacher's admin-api token-bucket rate limiter, adapted
// from per-IP HTTP throttling to per-connection websocket send pacing using
// golang.org/x/time/rate instead of a hand-rolled bucket.
func newConnection(ws *websocket.Conn, role protocol.Role, id string, log *zap.Logger, limiter *rate.Limiter) *Connection {
	c := &Connection{
		ws:      ws,
		role:    role,
		id:      id,
		send:    make(chan []byte, 64),
		log:     log,
		closed:  make(chan struct{}),
		limiter: limiter,
	}
	c.lastSeen.Store(time.Now())
	return c
}

// Role returns the connection's bound role.
func (c *Connection) Role() protocol.Role { return c.role }

// ID returns the connection's worker/client/monitor identity.
func (c *Connection) ID() string { return c.id }

// Send enqueues an envelope for delivery; it never blocks the caller for
// longer than the send buffer allows, dropping the connection if the buffer
// is full (a slow consumer is treated as dead).
func (c *Connection) Send(env protocol.Envelope) {
	b, err := env.Marshal()
	if err != nil {
		c.log.Warn("marshal envelope", zap.Error(err))
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warn("send buffer full, closing slow connection", zap.String("conn_id", c.id))
		c.Close()
	}
}

// Close closes the connection exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// Done reports when the connection has closed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

func (c *Connection) touch() { c.lastSeen.Store(time.Now()) }

func (c *Connection) idleSince() time.Duration { return time.Since(c.lastSeen.Load()) }

// readLoop decodes incoming envelopes and hands them to handle until the
// connection closes or ctx is cancelled.
func (c *Connection) readLoop(ctx context.Context, handle func(*Connection, protocol.Envelope)) {
	defer c.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Debug("drop malformed envelope", zap.Error(err), zap.String("conn_id", c.id))
			continue
		}
		handle(c, env)
	}
}

// writeLoop drains the send channel to the underlying websocket, pacing
// frames through limiter when one is set.
func (c *Connection) writeLoop(ctx context.Context) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case b := <-c.send:
			if c.limiter != nil {
				if err := c.limiter.WaitN(ctx, 1); err != nil {
					return
				}
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
