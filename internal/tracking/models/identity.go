package models

import (
	"slices"

	dErrors "trackhub/pkg/domain-errors"
)

// Role is the kind of principal holding a connection.
type Role string

const (
	// RoleDispatcher is a company dashboard user watching fleet positions.
	RoleDispatcher Role = "dispatcher"
	// RoleDriver reports positions for the vehicles assigned to it.
	RoleDriver Role = "driver"
	// RoleCustomer tracks individual shipments.
	RoleCustomer Role = "customer"
	// RoleService is a trusted backend (business layer, telematics gateway).
	RoleService Role = "service"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleDispatcher, RoleDriver, RoleCustomer, RoleService:
		return true
	}
	return false
}

// Identity is the authenticated principal behind a connection. It is issued by
// the authenticator at handshake time and is immutable for the connection's life.
type Identity struct {
	Subject    string
	Role       Role
	CompanyIDs []CompanyID
	VehicleIDs []VehicleID
}

// Validate rejects identities that may not hold a connection at all.
func (i Identity) Validate() error {
	if i.Subject == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "identity has no subject")
	}
	if !i.Role.Valid() {
		return dErrors.New(dErrors.CodeUnauthorized, "identity has unknown role")
	}
	return nil
}

// InCompany reports whether the identity's claims include company.
func (i Identity) InCompany(company CompanyID) bool {
	return slices.Contains(i.CompanyIDs, company)
}

// AssignedVehicle reports whether the identity's claims include vehicle.
func (i Identity) AssignedVehicle(vehicle VehicleID) bool {
	return slices.Contains(i.VehicleIDs, vehicle)
}

// HomeCompany returns the single company an identity belongs to, if any.
func (i Identity) HomeCompany() (CompanyID, bool) {
	if len(i.CompanyIDs) != 1 {
		return 0, false
	}
	return i.CompanyIDs[0], true
}
