package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trackhub/internal/tracking/models"
)

// ClaimsAuthorizer decides from the token claims alone. Service identities
// are trusted for every company and vehicle.
type ClaimsAuthorizer struct{}

// NewClaimsAuthorizer creates a claims-only authorizer.
func NewClaimsAuthorizer() *ClaimsAuthorizer {
	return &ClaimsAuthorizer{}
}

// Authorize allows members of the company.
func (ClaimsAuthorizer) Authorize(_ context.Context, identity models.Identity, company models.CompanyID) (bool, error) {
	if identity.Role == models.RoleService {
		return true, nil
	}
	return identity.InCompany(company), nil
}

// OwnsVehicle allows drivers to report the vehicles assigned to them.
func (ClaimsAuthorizer) OwnsVehicle(_ context.Context, identity models.Identity, vehicle models.VehicleID) (bool, error) {
	switch identity.Role {
	case models.RoleService:
		return true, nil
	case models.RoleDriver:
		return identity.AssignedVehicle(vehicle), nil
	default:
		return false, nil
	}
}

const driverVehiclesKeyPrefix = "trackhub:driver-vehicles:"

// AssignmentAuthorizer extends claims with live vehicle assignments kept in a
// Redis set per driver (trackhub:driver-vehicles:<subject>). Dispatch systems
// update the set when shifts change so a long-lived token does not pin a
// driver to stale vehicles.
type AssignmentAuthorizer struct {
	ClaimsAuthorizer
	client redis.UniversalClient
}

// NewAssignmentAuthorizer creates a Redis-backed authorizer.
func NewAssignmentAuthorizer(client redis.UniversalClient) *AssignmentAuthorizer {
	return &AssignmentAuthorizer{client: client}
}

// OwnsVehicle consults the claims first and the assignment set second.
func (a *AssignmentAuthorizer) OwnsVehicle(ctx context.Context, identity models.Identity, vehicle models.VehicleID) (bool, error) {
	if ok, _ := a.ClaimsAuthorizer.OwnsVehicle(ctx, identity, vehicle); ok {
		return true, nil
	}
	if identity.Role != models.RoleDriver {
		return false, nil
	}
	assigned, err := a.client.SIsMember(ctx, driverVehiclesKeyPrefix+identity.Subject, vehicle.String()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("check vehicle assignment: %w", err)
	}
	return assigned, nil
}

// AssignVehicle records vehicle as assigned to a driver subject.
func (a *AssignmentAuthorizer) AssignVehicle(ctx context.Context, subject string, vehicle models.VehicleID) error {
	return a.client.SAdd(ctx, driverVehiclesKeyPrefix+subject, vehicle.String()).Err()
}

// UnassignVehicle removes a vehicle assignment.
func (a *AssignmentAuthorizer) UnassignVehicle(ctx context.Context, subject string, vehicle models.VehicleID) error {
	return a.client.SRem(ctx, driverVehiclesKeyPrefix+subject, vehicle.String()).Err()
}
