// Package ports defines the collaborator interfaces the tracking hub consumes.
// Interfaces live here because several hub components share them.
package ports

import (
	"context"
	"errors"

	"trackhub/internal/tracking/models"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks LocationStore,Authorizer

// ErrConnectionDead is returned by a Sender whose connection can no longer
// accept frames (closed, or its outbound queue is full).
var ErrConnectionDead = errors.New("connection dead")

// LocationStore is the external system of record for vehicle positions.
type LocationStore interface {
	// LatestPosition returns the most recent snapshot or sentinel.ErrNotFound.
	LatestPosition(ctx context.Context, vehicleID models.VehicleID) (*models.VehicleSnapshot, error)

	// RecordPosition persists a report and returns the canonical snapshot as stored.
	RecordPosition(ctx context.Context, report models.PositionReport) (*models.VehicleSnapshot, error)

	// FleetSnapshot returns the latest snapshot of every vehicle of a company.
	FleetSnapshot(ctx context.Context, companyID models.CompanyID) ([]models.VehicleSnapshot, error)
}

// Authorizer decides what an identity may observe or report.
type Authorizer interface {
	// Authorize reports whether the identity may see the company's fleet.
	Authorize(ctx context.Context, identity models.Identity, companyID models.CompanyID) (bool, error)

	// OwnsVehicle reports whether the identity may report positions for the vehicle.
	OwnsVehicle(ctx context.Context, identity models.Identity, vehicleID models.VehicleID) (bool, error)
}

// Sender delivers an encoded frame to one connection. Implementations must not
// block on a slow peer.
type Sender interface {
	Send(frame []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(frame []byte) error

func (f SenderFunc) Send(frame []byte) error { return f(frame) }

// Reaper accepts connections found dead during delivery.
type Reaper interface {
	Reap(id models.ConnectionID)
}

// Forwarder relays events to other hub instances.
type Forwarder interface {
	Forward(ctx context.Context, event models.Event) error
}

// Closer is implemented by senders that own a transport which must be torn
// down when the hub disconnects the connection.
type Closer interface {
	Close(reason models.DisconnectReason)
}
