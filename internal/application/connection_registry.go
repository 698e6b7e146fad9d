package application

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
)

// ConnectionRegistry maps an identity to its single live connection.
// Connections are only closed after the lock is released.
type ConnectionRegistry[K comparable] struct {
	name   string
	logger domain.Logger

	mu    sync.Mutex
	conns map[K]domain.ManagedConnection
}

// NewConnectionRegistry creates an empty registry. name labels logs and metrics.
func NewConnectionRegistry[K comparable](name string, logger domain.Logger) *ConnectionRegistry[K] {
	return &ConnectionRegistry[K]{
		name:   name,
		logger: logger,
		conns:  make(map[K]domain.ManagedConnection),
	}
}

// Register stores conn for id. A previous connection for id is evicted and
// returned, or nil if there was none. The evicted connection is closed with
// StatusSuperseded in the background, so conn is usable as soon as Register
// returns even when the old peer never answers the close frame.
func (r *ConnectionRegistry[K]) Register(id K, conn domain.ManagedConnection) domain.ManagedConnection {
	r.mu.Lock()
	prev, existed := r.conns[id]
	r.conns[id] = conn
	r.mu.Unlock()

	if !existed {
		metrics.IncrementActiveConnections(r.name)
		r.logger.Info(conn.Context(), "Connection registered", "registry", r.name, "identity", id, "connection_id", conn.ID(), "remote_addr", conn.RemoteAddr())
		return nil
	}
	if prev.ID() == conn.ID() {
		return nil
	}

	metrics.IncrementRegistryEvictions(r.name, "superseded")
	r.logger.Info(conn.Context(), "Connection superseded", "registry", r.name, "identity", id, "previous_connection_id", prev.ID(), "connection_id", conn.ID())
	closeDetached(conn.Context(), r.logger, prev, domain.ErrSuperseded.CloseCode(), "superseded by new connection")
	return prev
}

// Lookup returns the connection registered for id.
func (r *ConnectionRegistry[K]) Lookup(id K) (domain.ManagedConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Remove deletes the entry for id. It is a no-op when id is absent.
func (r *ConnectionRegistry[K]) Remove(id K) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		metrics.DecrementActiveConnections(r.name)
		r.logger.Info(conn.Context(), "Connection removed", "registry", r.name, "identity", id, "connection_id", conn.ID())
	}
	return ok
}

// RemoveIf deletes the entry for id only while it still holds conn, so a
// stale cleanup cannot evict a newer connection.
func (r *ConnectionRegistry[K]) RemoveIf(id K, conn domain.ManagedConnection) bool {
	r.mu.Lock()
	current, ok := r.conns[id]
	removed := ok && current.ID() == conn.ID()
	if removed {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if removed {
		metrics.DecrementActiveConnections(r.name)
		r.logger.Info(conn.Context(), "Connection removed", "registry", r.name, "identity", id, "connection_id", conn.ID())
	} else {
		r.logger.Debug(conn.Context(), "Connection already replaced or removed", "registry", r.name, "identity", id, "connection_id", conn.ID())
	}
	return removed
}

// Len returns the number of registered identities.
func (r *ConnectionRegistry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll empties the registry and closes every connection concurrently. It
// returns when all are closed or ctx ends, whichever comes first.
func (r *ConnectionRegistry[K]) CloseAll(ctx context.Context, code websocket.StatusCode, reason string) {
	r.mu.Lock()
	conns := make([]domain.ManagedConnection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[K]domain.ManagedConnection)
	r.mu.Unlock()

	for range conns {
		metrics.DecrementActiveConnections(r.name)
	}
	if pending := closeConcurrently(ctx, r.logger, conns, code, reason); pending > 0 {
		r.logger.Warn(ctx, "Shutdown deadline reached with connections still closing", "registry", r.name, "count", len(conns), "pending", pending)
		return
	}
	r.logger.Info(ctx, "Registry closed all connections", "registry", r.name, "count", len(conns))
}
