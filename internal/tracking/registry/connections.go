package registry

import (
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	dErrors "trackhub/pkg/domain-errors"
)

// Connection is one registered transport connection. Identity and Sender are
// fixed at registration; only the state changes afterwards.
type Connection struct {
	ID          models.ConnectionID
	Identity    models.Identity
	Sender      ports.Sender
	ConnectedAt time.Time

	state         atomic.Int32
	undeliverable atomic.Bool
}

// State returns the current lifecycle state.
func (c *Connection) State() models.ConnState {
	return models.ConnState(c.state.Load())
}

// MarkUndeliverable records that a send to this connection failed. Only the
// first caller gets true. The lifecycle state is left for Disconnect.
func (c *Connection) MarkUndeliverable() bool {
	return c.undeliverable.CompareAndSwap(false, true)
}

// Deliverable reports whether frames may still be sent to the connection.
func (c *Connection) Deliverable() bool {
	return c.State() == models.StateLive && !c.undeliverable.Load()
}

func (c *Connection) transition(from, to models.ConnState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

type connShard struct {
	mu      sync.RWMutex
	entries map[models.ConnectionID]*Connection
}

// Connections is the registry of live connections, sharded by connection id.
type Connections struct {
	shards []*connShard
	seed   maphash.Seed
	now    func() time.Time
}

// NewConnections creates an empty registry.
func NewConnections(opts ...Option) *Connections {
	cfg := newConfig(opts)
	shards := make([]*connShard, cfg.shards)
	for i := range shards {
		shards[i] = &connShard{entries: make(map[models.ConnectionID]*Connection)}
	}
	return &Connections{shards: shards, seed: maphash.MakeSeed(), now: time.Now}
}

func (r *Connections) shard(id models.ConnectionID) *connShard {
	return r.shards[shardIndex(r.seed, id, len(r.shards))]
}

// Register records a live connection for an authenticated identity.
func (r *Connections) Register(id models.ConnectionID, identity models.Identity, sender ports.Sender) error {
	if id.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "connection id is required")
	}
	if sender == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "connection sender is required")
	}
	if err := identity.Validate(); err != nil {
		return err
	}

	conn := &Connection{ID: id, Identity: identity, Sender: sender, ConnectedAt: r.now()}
	conn.state.Store(int32(models.StateLive))

	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.entries[id]; exists {
		return dErrors.New(dErrors.CodeConflict, "connection already registered")
	}
	sh.entries[id] = conn
	return nil
}

// BeginClose moves a connection from Live to Closing. Only the first caller
// for a given connection gets true.
func (r *Connections) BeginClose(id models.ConnectionID) bool {
	conn, ok := r.Get(id)
	if !ok {
		return false
	}
	return conn.transition(models.StateLive, models.StateClosing)
}

// Unregister removes the connection and marks it Closed. Returns false when
// the connection was not registered.
func (r *Connections) Unregister(id models.ConnectionID) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	conn, ok := sh.entries[id]
	if ok {
		delete(sh.entries, id)
	}
	sh.mu.Unlock()
	if ok {
		conn.state.Store(int32(models.StateClosed))
	}
	return ok
}

// Get returns the registered connection.
func (r *Connections) Get(id models.ConnectionID) (*Connection, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	conn, ok := sh.entries[id]
	return conn, ok
}

// IsLive reports whether the connection is registered, in state Live and not
// yet found dead by a failed send.
func (r *Connections) IsLive(id models.ConnectionID) bool {
	conn, ok := r.Get(id)
	return ok && conn.Deliverable()
}

// Identity returns the identity bound to a registered connection.
func (r *Connections) Identity(id models.ConnectionID) (models.Identity, bool) {
	conn, ok := r.Get(id)
	if !ok {
		return models.Identity{}, false
	}
	return conn.Identity, true
}

// State returns the connection state, StateClosed for unknown ids.
func (r *Connections) State(id models.ConnectionID) models.ConnState {
	conn, ok := r.Get(id)
	if !ok {
		return models.StateClosed
	}
	return conn.State()
}

// Len returns the number of registered connections in any state.
func (r *Connections) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Live returns a snapshot of the ids currently in state Live.
func (r *Connections) Live() []models.ConnectionID {
	var ids []models.ConnectionID
	for _, sh := range r.shards {
		sh.mu.RLock()
		for id, conn := range sh.entries {
			if conn.State() == models.StateLive {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}
	return ids
}
