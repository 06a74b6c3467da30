package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports/mocks"
	dErrors "trackhub/pkg/domain-errors"
	"trackhub/pkg/platform/circuit"
	"trackhub/pkg/platform/sentinel"
)

type stubIdentities map[models.ConnectionID]models.Identity

func (s stubIdentities) Identity(id models.ConnectionID) (models.Identity, bool) {
	identity, ok := s[id]
	return identity, ok
}

type capturePublisher struct {
	events []models.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e models.Event) (dispatch.Delivery, error) {
	if c.err != nil {
		return dispatch.Delivery{}, c.err
	}
	c.events = append(c.events, e)
	return dispatch.Delivery{Targets: 1, Delivered: 1}, nil
}

type PipelineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	authz     *mocks.MockAuthorizer
	store     *mocks.MockLocationStore
	publisher *capturePublisher
	conn      models.ConnectionID
	driver    models.Identity
	pipeline  *Pipeline
	ctx       context.Context
}

func (s *PipelineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.authz = mocks.NewMockAuthorizer(s.ctrl)
	s.store = mocks.NewMockLocationStore(s.ctrl)
	s.publisher = &capturePublisher{}
	s.conn = models.NewConnectionID()
	s.driver = models.Identity{
		Subject:    "driver-9",
		Role:       models.RoleDriver,
		CompanyIDs: []models.CompanyID{7},
		VehicleIDs: []models.VehicleID{3},
	}
	s.pipeline = New(stubIdentities{s.conn: s.driver}, s.authz, s.store, s.publisher,
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
	)
	s.ctx = context.Background()
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func report() models.PositionReport {
	return models.PositionReport{VehicleID: 3, CompanyID: 7, Lat: 52.370216, Lng: 4.895168, Speed: 12.5, Heading: 90}
}

func (s *PipelineSuite) expectAuthorized() {
	s.authz.EXPECT().OwnsVehicle(gomock.Any(), s.driver, models.VehicleID(3)).Return(true, nil)
	s.authz.EXPECT().Authorize(gomock.Any(), s.driver, models.CompanyID(7)).Return(true, nil)
}

func storedFrom(r models.PositionReport) *models.VehicleSnapshot {
	snap := models.Normalize(r, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return &snap
}

func (s *PipelineSuite) TestUpdateLocationBroadcastsCanonicalSnapshot() {
	s.expectAuthorized()
	stored := storedFrom(report())
	s.store.EXPECT().RecordPosition(gomock.Any(), report()).Return(stored, nil)

	s.Require().NoError(s.pipeline.UpdateLocation(s.ctx, s.conn, report()))

	s.Require().Len(s.publisher.events, 1)
	s.Equal(stored.LocationChanged(), s.publisher.events[0])
}

func (s *PipelineSuite) TestMissingCompanyDefaultsToHomeCompany() {
	s.expectAuthorized()
	r := report()
	r.CompanyID = 0
	s.store.EXPECT().RecordPosition(gomock.Any(), report()).Return(storedFrom(report()), nil)

	s.Require().NoError(s.pipeline.UpdateLocation(s.ctx, s.conn, r))
}

func (s *PipelineSuite) TestMissingCompanyIsInvalidForMultiCompanyIdentity() {
	dispatcher := models.Identity{
		Subject:    "ops-1",
		Role:       models.RoleDispatcher,
		CompanyIDs: []models.CompanyID{7, 8},
	}
	r := report()
	r.CompanyID = 0

	_, err := s.pipeline.Ingest(s.ctx, dispatcher, r)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "no company is guessed when several are claimed")
	s.Empty(s.publisher.events)
}

func (s *PipelineSuite) TestInvalidReportNeverReachesCollaborators() {
	r := report()
	r.Lat = 95

	err := s.pipeline.UpdateLocation(s.ctx, s.conn, r)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Empty(s.publisher.events)
}

func (s *PipelineSuite) TestUnownedVehicleIsForbidden() {
	s.authz.EXPECT().OwnsVehicle(gomock.Any(), s.driver, models.VehicleID(3)).Return(false, nil)

	err := s.pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Empty(s.publisher.events)
}

func (s *PipelineSuite) TestForeignCompanyIsForbidden() {
	s.authz.EXPECT().OwnsVehicle(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
	s.authz.EXPECT().Authorize(gomock.Any(), s.driver, models.CompanyID(8)).Return(false, nil)
	r := report()
	r.CompanyID = 8

	err := s.pipeline.UpdateLocation(s.ctx, s.conn, r)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *PipelineSuite) TestStoreFailureBroadcastsNothing() {
	s.expectAuthorized()
	s.store.EXPECT().RecordPosition(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable)

	err := s.pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Empty(s.publisher.events)
}

func (s *PipelineSuite) TestOpenCircuitSkipsStore() {
	s.authz.EXPECT().OwnsVehicle(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(3)
	s.authz.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(3)
	s.store.EXPECT().RecordPosition(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable).Times(2)

	for range 2 {
		err := s.pipeline.UpdateLocation(s.ctx, s.conn, report())
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	}
	err := s.pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "open circuit fails fast without calling the store")
}

func (s *PipelineSuite) TestThrottle() {
	pipeline := New(stubIdentities{s.conn: s.driver}, s.authz, s.store, s.publisher, WithThrottle(NewThrottle(1, time.Minute)))
	s.expectAuthorized()
	s.expectAuthorized()
	s.store.EXPECT().RecordPosition(gomock.Any(), gomock.Any()).Return(storedFrom(report()), nil)

	s.Require().NoError(pipeline.UpdateLocation(s.ctx, s.conn, report()))
	err := pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	s.Len(s.publisher.events, 1)
}

func (s *PipelineSuite) TestStoreTimeoutIsBounded() {
	pipeline := New(stubIdentities{s.conn: s.driver}, s.authz, s.store, s.publisher, WithStoreTimeout(10*time.Millisecond))
	s.expectAuthorized()
	s.store.EXPECT().RecordPosition(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ models.PositionReport) (*models.VehicleSnapshot, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	err := pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *PipelineSuite) TestUnknownConnection() {
	err := s.pipeline.UpdateLocation(s.ctx, models.NewConnectionID(), report())
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *PipelineSuite) TestRequestVehicleLocation() {
	s.Run("returns latest position", func() {
		stored := storedFrom(report())
		s.store.EXPECT().LatestPosition(gomock.Any(), models.VehicleID(3)).Return(stored, nil)
		s.authz.EXPECT().Authorize(gomock.Any(), s.driver, models.CompanyID(7)).Return(true, nil)

		got, err := s.pipeline.RequestVehicleLocation(s.ctx, s.conn, 3)
		s.Require().NoError(err)
		s.Equal(stored, got)
	})

	s.Run("unknown vehicle is not found", func() {
		s.store.EXPECT().LatestPosition(gomock.Any(), models.VehicleID(4)).Return(nil, sentinel.ErrNotFound)

		_, err := s.pipeline.RequestVehicleLocation(s.ctx, s.conn, 4)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("other company's vehicle is forbidden", func() {
		foreign := &models.VehicleSnapshot{VehicleID: 5, CompanyID: 8}
		s.store.EXPECT().LatestPosition(gomock.Any(), models.VehicleID(5)).Return(foreign, nil)
		s.authz.EXPECT().Authorize(gomock.Any(), s.driver, models.CompanyID(8)).Return(false, nil)

		_, err := s.pipeline.RequestVehicleLocation(s.ctx, s.conn, 5)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("store outage is unavailable", func() {
		s.store.EXPECT().LatestPosition(gomock.Any(), models.VehicleID(6)).Return(nil, errors.New("connection refused"))

		_, err := s.pipeline.RequestVehicleLocation(s.ctx, s.conn, 6)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *PipelineSuite) TestServiceIdentityIngest() {
	svc := models.Identity{Subject: "telematics", Role: models.RoleService}
	s.authz.EXPECT().OwnsVehicle(gomock.Any(), svc, models.VehicleID(3)).Return(true, nil)
	s.authz.EXPECT().Authorize(gomock.Any(), svc, models.CompanyID(7)).Return(true, nil)
	s.store.EXPECT().RecordPosition(gomock.Any(), report()).Return(storedFrom(report()), nil)

	snap, err := s.pipeline.Ingest(s.ctx, svc, report())
	s.Require().NoError(err)
	s.Equal(models.VehicleID(3), snap.VehicleID)
}

func (s *PipelineSuite) TestStoreRecoversAfterCooldown() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	breaker := circuit.New("location-store",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(30*time.Second),
		circuit.WithClock(func() time.Time { return now }),
	)
	pipeline := New(stubIdentities{s.conn: s.driver}, s.authz, s.store, s.publisher, WithBreaker(breaker))
	s.authz.EXPECT().OwnsVehicle(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(3)
	s.authz.EXPECT().Authorize(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(3)
	gomock.InOrder(
		s.store.EXPECT().RecordPosition(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable),
		s.store.EXPECT().RecordPosition(gomock.Any(), report()).Return(storedFrom(report()), nil),
	)

	err := pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.True(breaker.IsOpen())

	err = pipeline.UpdateLocation(s.ctx, s.conn, report())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "inside the cooldown the store is not called")

	now = now.Add(30 * time.Second)
	s.Require().NoError(pipeline.UpdateLocation(s.ctx, s.conn, report()))
	s.False(breaker.IsOpen(), "a successful trial call closes the circuit")
	s.Len(s.publisher.events, 1)
}
