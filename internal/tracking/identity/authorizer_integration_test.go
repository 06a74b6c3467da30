//go:build integration

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/testutil/containers"
)

func TestAssignmentAuthorizer(t *testing.T) {
	ctx := context.Background()
	redis := containers.GetManager().GetRedis(t)
	require.NoError(t, redis.FlushAll(ctx))
	authz := NewAssignmentAuthorizer(redis.Client)

	owns, err := authz.OwnsVehicle(ctx, driver, 3)
	require.NoError(t, err)
	require.True(t, owns, "claims still grant ownership")

	owns, err = authz.OwnsVehicle(ctx, driver, 12)
	require.NoError(t, err)
	require.False(t, owns)

	require.NoError(t, authz.AssignVehicle(ctx, driver.Subject, 12))
	owns, err = authz.OwnsVehicle(ctx, driver, 12)
	require.NoError(t, err)
	require.True(t, owns, "live assignment grants ownership")

	require.NoError(t, authz.UnassignVehicle(ctx, driver.Subject, 12))
	owns, err = authz.OwnsVehicle(ctx, driver, models.VehicleID(12))
	require.NoError(t, err)
	require.False(t, owns)
}
