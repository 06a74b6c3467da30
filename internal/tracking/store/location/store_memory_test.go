package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/platform/sentinel"
	"trackhub/pkg/requestcontext"
)

type InMemorySuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	at    time.Time
}

func (s *InMemorySuite) SetupTest() {
	s.store = NewInMemory()
	s.at = time.Date(2026, 3, 1, 14, 0, 0, 0, time.FixedZone("CET", 3600))
	s.ctx = requestcontext.WithTime(context.Background(), s.at)
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) TestRecordReturnsCanonicalSnapshot() {
	snap, err := s.store.RecordPosition(s.ctx, models.PositionReport{
		VehicleID: 3, CompanyID: 7, Lat: 52.37021612345, Lng: 4.8951681234, Speed: 33.456, Heading: 360,
	})
	s.Require().NoError(err)
	s.Equal(52.370216, snap.Lat)
	s.Equal(4.895168, snap.Lng)
	s.Equal(33.46, snap.Speed)
	s.Equal(0.0, snap.Heading)
	s.Equal(s.at.UTC(), snap.Timestamp)

	latest, err := s.store.LatestPosition(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(snap, latest)
}

func (s *InMemorySuite) TestUnknownVehicle() {
	_, err := s.store.LatestPosition(s.ctx, 404)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemorySuite) TestFleetSnapshot() {
	s.Run("orders by vehicle and isolates companies", func() {
		for _, r := range []models.PositionReport{
			{VehicleID: 5, CompanyID: 7, Lat: 1, Lng: 1},
			{VehicleID: 2, CompanyID: 7, Lat: 2, Lng: 2},
			{VehicleID: 9, CompanyID: 8, Lat: 3, Lng: 3},
		} {
			_, err := s.store.RecordPosition(s.ctx, r)
			s.Require().NoError(err)
		}

		fleet, err := s.store.FleetSnapshot(s.ctx, 7)
		s.Require().NoError(err)
		s.Require().Len(fleet, 2)
		s.Equal(models.VehicleID(2), fleet[0].VehicleID)
		s.Equal(models.VehicleID(5), fleet[1].VehicleID)
	})

	s.Run("vehicle moving company leaves its old fleet", func() {
		_, err := s.store.RecordPosition(s.ctx, models.PositionReport{VehicleID: 5, CompanyID: 8, Lat: 1, Lng: 1})
		s.Require().NoError(err)

		fleet7, err := s.store.FleetSnapshot(s.ctx, 7)
		s.Require().NoError(err)
		s.Len(fleet7, 1)

		fleet8, err := s.store.FleetSnapshot(s.ctx, 8)
		s.Require().NoError(err)
		s.Len(fleet8, 2)
	})

	s.Run("empty fleet is an empty slice", func() {
		fleet, err := s.store.FleetSnapshot(s.ctx, 99)
		s.Require().NoError(err)
		s.NotNil(fleet)
		s.Empty(fleet)
	})
}
