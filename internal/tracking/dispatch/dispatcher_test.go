package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	"trackhub/internal/tracking/ports/mocks"
	"trackhub/internal/tracking/registry"
	dErrors "trackhub/pkg/domain-errors"
)

type recordingSender struct {
	mu       sync.Mutex
	frames   [][]byte
	attempts int
	err      error
}

func (r *recordingSender) Send(frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, frame)
	return nil
}

func (r *recordingSender) sendAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *recordingSender) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

type recordingReaper struct {
	mu   sync.Mutex
	reap []models.ConnectionID
}

func (r *recordingReaper) Reap(id models.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reap = append(r.reap, id)
}

type stubForwarder struct {
	events []models.Event
	err    error
}

func (f *stubForwarder) Forward(_ context.Context, e models.Event) error {
	f.events = append(f.events, e)
	return f.err
}

type DispatcherSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	conns  *registry.Connections
	subs   *registry.Subscriptions
	groups *registry.Groups
	authz  *mocks.MockAuthorizer
	store  *mocks.MockLocationStore
	reaper *recordingReaper
	d      *Dispatcher
	ctx    context.Context
}

func (s *DispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.authz = mocks.NewMockAuthorizer(s.ctrl)
	s.store = mocks.NewMockLocationStore(s.ctrl)
	s.conns = registry.NewConnections()
	s.subs = registry.NewSubscriptions(s.conns)
	s.groups = registry.NewGroups(s.conns, s.authz, s.store)
	s.reaper = &recordingReaper{}
	s.d = New(s.conns, s.subs, s.groups, s.reaper, WithMetrics(metrics.New(prometheus.NewRegistry())))
	s.ctx = context.Background()
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) connect(sender ports.Sender, identity models.Identity) models.ConnectionID {
	id := models.NewConnectionID()
	s.Require().NoError(s.conns.Register(id, identity, sender))
	return id
}

func (s *DispatcherSuite) customer(sender ports.Sender) models.ConnectionID {
	return s.connect(sender, models.Identity{Subject: "cust", Role: models.RoleCustomer})
}

func (s *DispatcherSuite) watch(id models.ConnectionID, shipment models.ShipmentID) {
	_, err := s.subs.Subscribe(id, shipment)
	s.Require().NoError(err)
}

func (s *DispatcherSuite) join(id models.ConnectionID, company models.CompanyID) {
	s.authz.EXPECT().Authorize(gomock.Any(), gomock.Any(), company).Return(true, nil)
	s.store.EXPECT().FleetSnapshot(gomock.Any(), company).Return(nil, nil)
	_, err := s.groups.Join(s.ctx, id, company)
	s.Require().NoError(err)
}

func statusEvent(order models.ShipmentID) models.OrderStatusChanged {
	e, _ := models.NewOrderStatusChanged(order, models.StatusPickedUp, models.StatusInTransit, nil,
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return e
}

func (s *DispatcherSuite) TestShipmentEventReachesOnlyWatchers() {
	watcherA, watcherB, other := &recordingSender{}, &recordingSender{}, &recordingSender{}
	a, b, o := s.customer(watcherA), s.customer(watcherB), s.customer(other)
	s.watch(a, 42)
	s.watch(b, 42)
	s.watch(o, 43)

	delivery, err := s.d.Publish(s.ctx, statusEvent(42))
	s.Require().NoError(err)
	s.Equal(Delivery{Targets: 2, Delivered: 2}, delivery)

	s.Len(watcherA.received(), 1)
	s.Len(watcherB.received(), 1)
	s.Empty(other.received())

	var frame models.Frame
	s.Require().NoError(json.Unmarshal(watcherA.received()[0], &frame))
	s.Equal(models.MethodOrderStatusUpdated, frame.Type)
	s.Equal(watcherA.received()[0], watcherB.received()[0], "frame is encoded once and shared")
}

func (s *DispatcherSuite) TestEveryShipmentVariantRoutesToWatchers() {
	sender := &recordingSender{}
	id := s.customer(sender)
	s.watch(id, 7)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	events := []models.Event{
		statusEvent(7),
		models.DriverLocationChanged{OrderID: 7, DriverID: 3, Lat: 1, Lng: 1, Timestamp: at},
		models.DeliveryCompleted{OrderID: 7, PhotoURL: "https://cdn.example/p.jpg", Timestamp: at},
		models.PhotoUploaded{OrderID: 7, PhotoType: "pickup", PhotoURL: "https://cdn.example/q.jpg", UploadedBy: "driver-3", Timestamp: at},
	}
	for _, e := range events {
		_, err := s.d.Publish(s.ctx, e)
		s.Require().NoError(err)
	}

	frames := sender.received()
	s.Require().Len(frames, len(events))
	for i, e := range events {
		var frame models.Frame
		s.Require().NoError(json.Unmarshal(frames[i], &frame))
		s.Equal(e.Kind().Method(), frame.Type)
	}
}

func (s *DispatcherSuite) TestVehicleEventReachesCompanyGroupOnly() {
	fleet7, fleet8 := &recordingSender{}, &recordingSender{}
	dispatcher7 := s.connect(fleet7, models.Identity{Subject: "d7", Role: models.RoleDispatcher, CompanyIDs: []models.CompanyID{7}})
	dispatcher8 := s.connect(fleet8, models.Identity{Subject: "d8", Role: models.RoleDispatcher, CompanyIDs: []models.CompanyID{8}})
	s.join(dispatcher7, 7)
	s.join(dispatcher8, 8)

	delivery, err := s.d.Publish(s.ctx, models.VehicleLocationChanged{
		VehicleID: 1, CompanyID: 7, Lat: 52.1, Lng: 4.3, Timestamp: time.Now().UTC(),
	})
	s.Require().NoError(err)
	s.Equal(1, delivery.Delivered)
	s.Len(fleet7.received(), 1)
	s.Empty(fleet8.received())
}

func (s *DispatcherSuite) TestDeadWatcherIsReapedAndOthersStillReceive() {
	healthy := &recordingSender{}
	dead := &recordingSender{err: ports.ErrConnectionDead}
	h, dID := s.customer(healthy), s.customer(dead)
	s.watch(h, 42)
	s.watch(dID, 42)

	delivery, err := s.d.Publish(s.ctx, statusEvent(42))
	s.Require().NoError(err, "dead connections are never surfaced to the publisher")
	s.Equal(1, delivery.Delivered)
	s.Equal(1, delivery.Dead)
	s.Len(healthy.received(), 1)
	s.Equal([]models.ConnectionID{dID}, s.reaper.reap)
}

func (s *DispatcherSuite) TestDeadWatcherIsNotRetriedBeforeReap() {
	dead := &recordingSender{err: ports.ErrConnectionDead}
	id := s.customer(dead)
	s.watch(id, 42)

	first, err := s.d.Publish(s.ctx, statusEvent(42))
	s.Require().NoError(err)
	s.Equal(Delivery{Targets: 1, Dead: 1}, first)

	second, err := s.d.Publish(s.ctx, statusEvent(42))
	s.Require().NoError(err)
	s.Equal(Delivery{Targets: 1, Skipped: 1}, second)

	s.Equal(1, dead.sendAttempts())
	s.Equal([]models.ConnectionID{id}, s.reaper.reap)
	s.False(s.conns.IsLive(id))
	s.Equal(models.StateLive, s.conns.State(id), "state changes only when the reap runs")
}

func (s *DispatcherSuite) TestClosingConnectionIsSkipped() {
	sender := &recordingSender{}
	id := s.customer(sender)
	s.watch(id, 42)
	s.conns.BeginClose(id)

	delivery, err := s.d.Publish(s.ctx, statusEvent(42))
	s.Require().NoError(err)
	s.Equal(Delivery{Targets: 1, Skipped: 1}, delivery)
	s.Empty(sender.received())
	s.Empty(s.reaper.reap)
}

func (s *DispatcherSuite) TestNoWatchersIsNotAnError() {
	delivery, err := s.d.Publish(s.ctx, statusEvent(99))
	s.Require().NoError(err)
	s.Equal(Delivery{}, delivery)
}

func (s *DispatcherSuite) TestInvalidEventIsRejected() {
	_, err := s.d.Publish(s.ctx, models.DriverLocationChanged{OrderID: 1, Lat: 91})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.d.Publish(s.ctx, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *DispatcherSuite) TestForwarder() {
	s.Run("forwards published events", func() {
		fwd := &stubForwarder{}
		d := New(s.conns, s.subs, s.groups, s.reaper, WithForwarder(fwd))
		_, err := d.Publish(s.ctx, statusEvent(1))
		s.Require().NoError(err)
		s.Len(fwd.events, 1)
	})

	s.Run("forwarding failure does not fail publish", func() {
		fwd := &stubForwarder{err: errors.New("redis down")}
		d := New(s.conns, s.subs, s.groups, s.reaper, WithForwarder(fwd))
		_, err := d.Publish(s.ctx, statusEvent(1))
		s.Require().NoError(err)
	})

	s.Run("local publish never forwards", func() {
		fwd := &stubForwarder{}
		d := New(s.conns, s.subs, s.groups, s.reaper, WithForwarder(fwd))
		_, err := d.PublishLocal(s.ctx, statusEvent(1))
		s.Require().NoError(err)
		s.Empty(fwd.events)
	})
}
