package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flowmesh/jobbroker/internal/broker"
	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
	"github.com/flowmesh/jobbroker/internal/obs"
	"github.com/flowmesh/jobbroker/internal/protocol"
	"github.com/flowmesh/jobbroker/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns every open connection and routes messages between the wire
// protocol and the broker.
type Hub struct {
	cfg    config.Hub
	broker *broker.Broker
	store  *store.Store
	log    *zap.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
}

// New constructs a Hub. broker and store are required collaborators; cfg
// carries the fail-loud connection policy (max connections, heartbeat
// interval, connection timeout, auth token).
func New(cfg config.Hub, br *broker.Broker, st *store.Store, log *zap.Logger) *Hub {
	return &Hub{
		cfg:         cfg,
		broker:      br,
		store:       st,
		log:         log,
		connections: make(map[string]*Connection),
	}
}

// ServeHTTP upgrades the request to a websocket connection, authenticates
// it, binds it to a role, and starts its reader/writer goroutines. The
// role and connection ID are taken from the URL path: /ws/{role}/{id}.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role, id, ok := parseRolePath(r.URL.Path)
	if !ok {
		http.Error(w, "invalid connection path, expected /ws/{role}/{id}", http.StatusBadRequest)
		return
	}
	if h.cfg.AuthToken != "" && r.URL.Query().Get("token") != h.cfg.AuthToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	count := len(h.connections)
	h.mu.RUnlock()
	if count >= h.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(ws, role, id, h.log, h.sendLimiter())
	h.register(conn)
	obs.ConnectionsActive.WithLabelValues(string(role)).Inc()
	defer func() {
		h.unregister(conn)
		obs.ConnectionsActive.WithLabelValues(string(role)).Dec()
	}()

	h.sendWelcome(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.monitorLiveness(ctx, conn)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); conn.readLoop(ctx, h.handle) }()
	go func() { defer wg.Done(); conn.writeLoop(ctx) }()
	wg.Wait()

	if role == protocol.RoleWorker {
		h.handleWorkerDisconnect(context.Background(), id)
	}
}

// sendLimiter returns a fresh per-connection rate limiter, or nil if
// unlimited sending is configured.
func (h *Hub) sendLimiter() *rate.Limiter {
	if h.cfg.SendRatePerSecond <= 0 {
		return nil
	}
	burst := h.cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.cfg.SendRatePerSecond), burst)
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	if h.connections[c.id] == c {
		delete(h.connections, c.id)
	}
	h.mu.Unlock()
}

// Broadcast fans an envelope out to every connection of the given role,
// used by the event broadcaster to push events to monitors.
func (h *Hub) Broadcast(role protocol.Role, env protocol.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.connections {
		if c.Role() == role {
			c.Send(env)
		}
	}
}

// IsConnected reports whether a worker connection with the given ID is
// currently open, satisfying internal/recovery.LiveChecker.
func (h *Hub) IsConnected(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.connections[workerID]
	return ok && c.Role() == protocol.RoleWorker
}

// ConnectionByID returns the open connection for id, if any.
func (h *Hub) ConnectionByID(id string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.connections[id]
	return c, ok
}

func (h *Hub) sendWelcome(c *Connection) {
	env, err := protocol.Encode(string(protocol.ServerMsgSystemStatus), map[string]interface{}{
		"connection_id": c.id,
		"role":          c.role,
		"connected_at":  time.Now().UTC(),
	})
	if err != nil {
		return
	}
	env.ID = uuid.NewString()
	c.Send(env)
}

func (h *Hub) monitorLiveness(ctx context.Context, c *Connection) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if c.idleSince() > h.cfg.ConnectionTimeout {
				h.log.Info("closing idle connection", zap.String("conn_id", c.id), zap.String("role", string(c.role)))
				c.Close()
				return
			}
		}
	}
}

func (h *Hub) handleWorkerDisconnect(ctx context.Context, workerID string) {
	if workerID == "" {
		return
	}
	// The record stays registered so the recovery loop reclaims its job
	// once the grace period has passed since this disconnect.
	worker, err := h.store.GetWorker(ctx, workerID)
	if err != nil {
		return
	}
	worker.Status = jobmodel.WorkerDisconnected
	worker.LastActivity = time.Now().UTC()
	if err := h.store.PutWorker(ctx, worker); err != nil {
		h.log.Warn("mark worker disconnected", zap.Error(err), zap.String("worker_id", workerID))
	}
}

func parseRolePath(path string) (protocol.Role, string, bool) {
	const prefix = "/ws/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			role := protocol.Role(rest[:i])
			id := rest[i+1:]
			if id == "" || !validRole(role) {
				return "", "", false
			}
			return role, id, true
		}
	}
	return "", "", false
}

func validRole(role protocol.Role) bool {
	switch role {
	case protocol.RoleWorker, protocol.RoleClient, protocol.RoleMonitor:
		return true
	default:
		return false
	}
}
