//go:build integration

package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/platform/sentinel"
	"trackhub/pkg/requestcontext"
	"trackhub/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC))
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.store = NewRedis(s.redis.Client, WithPositionTTL(time.Minute))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	snap, err := s.store.RecordPosition(s.ctx, models.PositionReport{VehicleID: 3, CompanyID: 7, Lat: 52.1, Lng: 4.3, Speed: 10, Heading: 45})
	s.Require().NoError(err)

	got, err := s.store.LatestPosition(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(snap.VehicleID, got.VehicleID)
	s.Equal(snap.Lat, got.Lat)
	s.True(snap.Timestamp.Equal(got.Timestamp))

	ttl, err := s.redis.Client.TTL(s.ctx, vehicleKey(3)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *RedisStoreSuite) TestUnknownVehicle() {
	_, err := s.store.LatestPosition(s.ctx, 404)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestFleetSnapshotPrunesMovedVehicles() {
	for _, r := range []models.PositionReport{
		{VehicleID: 2, CompanyID: 7, Lat: 1, Lng: 1},
		{VehicleID: 1, CompanyID: 7, Lat: 1, Lng: 1},
		{VehicleID: 1, CompanyID: 8, Lat: 1, Lng: 1},
	} {
		_, err := s.store.RecordPosition(s.ctx, r)
		s.Require().NoError(err)
	}

	fleet, err := s.store.FleetSnapshot(s.ctx, 7)
	s.Require().NoError(err)
	s.Require().Len(fleet, 1)
	s.Equal(models.VehicleID(2), fleet[0].VehicleID)

	members, err := s.redis.Client.SMembers(s.ctx, fleetKey(7)).Result()
	s.Require().NoError(err)
	s.Equal([]string{"2"}, members)
}

func (s *RedisStoreSuite) TestEmptyFleet() {
	fleet, err := s.store.FleetSnapshot(s.ctx, 99)
	s.Require().NoError(err)
	s.Empty(fleet)
}
