package models

import (
	"strconv"

	"github.com/google/uuid"

	dErrors "trackhub/pkg/domain-errors"
)

// ConnectionID identifies one transport-level connection. Assigned at connect
// time and never reused.
type ConnectionID uuid.UUID

// NewConnectionID returns a fresh random connection id.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New())
}

func (c ConnectionID) String() string {
	return uuid.UUID(c).String()
}

// IsNil reports whether c is the zero id.
func (c ConnectionID) IsNil() bool {
	return uuid.UUID(c) == uuid.Nil
}

// ShipmentID identifies a tracked delivery unit (an order in the business domain).
type ShipmentID int64

// CompanyID identifies a tenant that owns a fleet.
type CompanyID int64

// VehicleID identifies a fleet vehicle.
type VehicleID int64

// DriverID identifies a driver assigned to an order.
type DriverID int64

func (s ShipmentID) String() string { return strconv.FormatInt(int64(s), 10) }
func (c CompanyID) String() string  { return strconv.FormatInt(int64(c), 10) }
func (v VehicleID) String() string  { return strconv.FormatInt(int64(v), 10) }
func (d DriverID) String() string   { return strconv.FormatInt(int64(d), 10) }

// ParseShipmentID validates a raw wire value.
func ParseShipmentID(raw int64) (ShipmentID, error) {
	return parsePositive[ShipmentID](raw, "orderId")
}

// ParseCompanyID validates a raw wire value.
func ParseCompanyID(raw int64) (CompanyID, error) {
	return parsePositive[CompanyID](raw, "companyId")
}

// ParseVehicleID validates a raw wire value.
func ParseVehicleID(raw int64) (VehicleID, error) {
	return parsePositive[VehicleID](raw, "vehicleId")
}

func parsePositive[T ~int64](raw int64, field string) (T, error) {
	if raw <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, field+" must be a positive integer")
	}
	return T(raw), nil
}
