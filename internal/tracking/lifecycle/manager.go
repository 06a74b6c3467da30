// Package lifecycle owns connection state transitions: connect, disconnect,
// reaping of connections found dead during delivery, and shutdown.
package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	"trackhub/internal/tracking/registry"
)

// DefaultReapQueue is the reap channel capacity used when none is configured.
const DefaultReapQueue = 1024

// Connections is the subset of the connection registry the manager drives.
type Connections interface {
	Register(id models.ConnectionID, identity models.Identity, sender ports.Sender) error
	Get(id models.ConnectionID) (*registry.Connection, bool)
	BeginClose(id models.ConnectionID) bool
	Unregister(id models.ConnectionID) bool
	Live() []models.ConnectionID
}

// Memberships is a registry whose entries must be dropped on disconnect.
type Memberships interface {
	DropConnection(id models.ConnectionID) int
}

// Manager runs the Connecting -> Live -> Closing -> Closed state machine.
type Manager struct {
	conns   Connections
	subs    Memberships
	groups  Memberships
	reaps   chan models.ConnectionID
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithReapQueue sets the capacity of the reap channel.
func WithReapQueue(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.reaps = make(chan models.ConnectionID, n)
		}
	}
}

// New creates a manager. Run must be started for Reap requests to be served.
func New(conns Connections, subs, groups Memberships, opts ...Option) *Manager {
	m := &Manager{
		conns:  conns,
		subs:   subs,
		groups: groups,
		reaps:  make(chan models.ConnectionID, DefaultReapQueue),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect registers an authenticated connection as Live. platform labels the
// client in metrics.
func (m *Manager) Connect(_ context.Context, id models.ConnectionID, identity models.Identity, sender ports.Sender, platform string) error {
	if err := m.conns.Register(id, identity, sender); err != nil {
		return err
	}
	m.metrics.IncrementConnects(string(identity.Role), platform)
	m.logger.Info("connection registered",
		zap.String("connection_id", id.String()),
		zap.String("subject", identity.Subject),
		zap.String("role", string(identity.Role)),
		zap.String("platform", platform),
	)
	return nil
}

// Disconnect tears a connection down and removes every membership it held.
// Only the first call for a connection does any work; it reports whether this
// call was that one.
func (m *Manager) Disconnect(_ context.Context, id models.ConnectionID, reason models.DisconnectReason) bool {
	if !m.conns.BeginClose(id) {
		return false
	}
	conn, _ := m.conns.Get(id)

	subs := m.subs.DropConnection(id)
	groups := m.groups.DropConnection(id)
	if conn != nil {
		if closer, ok := conn.Sender.(ports.Closer); ok {
			closer.Close(reason)
		}
	}
	m.conns.Unregister(id)

	m.metrics.IncrementDisconnects(string(reason))
	m.logger.Info("connection closed",
		zap.String("connection_id", id.String()),
		zap.String("reason", string(reason)),
		zap.Int("subscriptions_dropped", subs),
		zap.Int("groups_dropped", groups),
	)
	return true
}

// Reap queues a connection found dead during delivery. It never blocks; when
// the queue is full the request is dropped and the connection is left to its
// transport keepalive.
func (m *Manager) Reap(id models.ConnectionID) {
	select {
	case m.reaps <- id:
	default:
		m.metrics.IncrementReapDropped()
		m.logger.Warn("reap queue full, dropping reap request", zap.String("connection_id", id.String()))
	}
}

// Run serves reap requests until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-m.reaps:
			m.Disconnect(ctx, id, models.ReasonDeadConnection)
		}
	}
}

// Shutdown disconnects every live connection with reason server_shutdown and
// returns how many were closed. It stops early when ctx is done.
func (m *Manager) Shutdown(ctx context.Context) int {
	closed := 0
	for _, id := range m.conns.Live() {
		if ctx.Err() != nil {
			break
		}
		if m.Disconnect(ctx, id, models.ReasonServerShutdown) {
			closed++
		}
	}
	m.logger.Info("hub shutdown complete", zap.Int("connections_closed", closed))
	return closed
}
