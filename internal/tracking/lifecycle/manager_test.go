package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports/mocks"
	"trackhub/internal/tracking/registry"
	dErrors "trackhub/pkg/domain-errors"
)

type closingSender struct {
	closes atomic.Int32
	reason atomic.Value
}

func (c *closingSender) Send([]byte) error { return nil }

func (c *closingSender) Close(reason models.DisconnectReason) {
	c.closes.Add(1)
	c.reason.Store(reason)
}

type ManagerSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	conns  *registry.Connections
	subs   *registry.Subscriptions
	groups *registry.Groups
	authz  *mocks.MockAuthorizer
	store  *mocks.MockLocationStore
	mgr    *Manager
	ctx    context.Context
}

func (s *ManagerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.authz = mocks.NewMockAuthorizer(s.ctrl)
	s.store = mocks.NewMockLocationStore(s.ctrl)
	s.conns = registry.NewConnections()
	s.subs = registry.NewSubscriptions(s.conns)
	s.groups = registry.NewGroups(s.conns, s.authz, s.store)
	s.mgr = New(s.conns, s.subs, s.groups, WithMetrics(metrics.New(prometheus.NewRegistry())))
	s.ctx = context.Background()
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) connect(sender *closingSender) models.ConnectionID {
	id := models.NewConnectionID()
	identity := models.Identity{Subject: "dispatcher-1", Role: models.RoleDispatcher, CompanyIDs: []models.CompanyID{7}}
	s.Require().NoError(s.mgr.Connect(s.ctx, id, identity, sender, "web"))
	return id
}

func (s *ManagerSuite) TestConnectRejectsUnauthenticated() {
	err := s.mgr.Connect(s.ctx, models.NewConnectionID(), models.Identity{}, &closingSender{}, "web")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(0, s.conns.Len())
}

func (s *ManagerSuite) TestDisconnectRemovesAllMemberships() {
	sender := &closingSender{}
	id := s.connect(sender)
	for _, shipment := range []models.ShipmentID{1, 2} {
		_, err := s.subs.Subscribe(id, shipment)
		s.Require().NoError(err)
	}
	s.authz.EXPECT().Authorize(gomock.Any(), gomock.Any(), models.CompanyID(7)).Return(true, nil)
	s.store.EXPECT().FleetSnapshot(gomock.Any(), models.CompanyID(7)).Return(nil, nil)
	_, err := s.groups.Join(s.ctx, id, 7)
	s.Require().NoError(err)

	s.True(s.mgr.Disconnect(s.ctx, id, models.ReasonClientClose))

	s.Empty(s.subs.WatchersOf(1))
	s.Empty(s.subs.WatchersOf(2))
	s.Empty(s.groups.MembersOf(7))
	s.Equal(0, s.subs.Shipments())
	s.Equal(0, s.groups.Companies())
	s.Equal(models.StateClosed, s.conns.State(id))
	s.EqualValues(1, sender.closes.Load())
	s.Equal(models.ReasonClientClose, sender.reason.Load())
}

func (s *ManagerSuite) TestDisconnectIsIdempotent() {
	sender := &closingSender{}
	id := s.connect(sender)

	s.True(s.mgr.Disconnect(s.ctx, id, models.ReasonTransportError))
	s.False(s.mgr.Disconnect(s.ctx, id, models.ReasonClientClose))
	s.False(s.mgr.Disconnect(s.ctx, models.NewConnectionID(), models.ReasonClientClose))
	s.EqualValues(1, sender.closes.Load())
}

func (s *ManagerSuite) TestConcurrentDisconnectRunsOnce() {
	sender := &closingSender{}
	id := s.connect(sender)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.mgr.Disconnect(s.ctx, id, models.ReasonTransportError) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(1, wins.Load())
	s.EqualValues(1, sender.closes.Load())
}

func (s *ManagerSuite) TestReapWorkerDisconnectsDeadConnections() {
	sender := &closingSender{}
	id := s.connect(sender)
	_, err := s.subs.Subscribe(id, 5)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.mgr.Run(ctx) }()

	s.mgr.Reap(id)
	s.Eventually(func() bool {
		return s.conns.State(id) == models.StateClosed
	}, time.Second, 5*time.Millisecond)
	s.Empty(s.subs.WatchersOf(5))
	s.Equal(models.ReasonDeadConnection, sender.reason.Load())

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *ManagerSuite) TestReapNeverBlocks() {
	mgr := New(s.conns, s.subs, s.groups, WithReapQueue(1))
	mgr.Reap(models.NewConnectionID())

	finished := make(chan struct{})
	go func() {
		mgr.Reap(models.NewConnectionID())
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		s.Fail("Reap blocked on a full queue")
	}
}

func (s *ManagerSuite) TestShutdownClosesEveryLiveConnection() {
	senders := []*closingSender{{}, {}, {}}
	for _, sender := range senders {
		s.connect(sender)
	}

	s.Equal(3, s.mgr.Shutdown(s.ctx))
	s.Equal(0, s.conns.Len())
	for _, sender := range senders {
		s.Equal(models.ReasonServerShutdown, sender.reason.Load())
	}
}

func (s *ManagerSuite) TestSubscribeRacingDisconnectLeavesNoResidue() {
	for range 50 {
		id := s.connect(&closingSender{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.subs.Subscribe(id, 77)
		}()
		go func() {
			defer wg.Done()
			s.mgr.Disconnect(s.ctx, id, models.ReasonClientClose)
		}()
		wg.Wait()
		s.False(s.subs.IsWatching(id, 77))
	}
	s.Equal(0, s.subs.Shipments())
}
