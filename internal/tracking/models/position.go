package models

import (
	"math"
	"time"

	dErrors "trackhub/pkg/domain-errors"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return dErrors.New(dErrors.CodeInvalidInput, "latitude must be within [-90, 90]")
	}
	if math.IsNaN(c.Lng) || c.Lng < -180 || c.Lng > 180 {
		return dErrors.New(dErrors.CodeInvalidInput, "longitude must be within [-180, 180]")
	}
	return nil
}

// PositionReport is a raw position tick sent by a driver-side client.
type PositionReport struct {
	VehicleID VehicleID `json:"vehicleId"`
	CompanyID CompanyID `json:"companyId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
}

// Validate rejects malformed reports before any collaborator is called.
func (r PositionReport) Validate() error {
	if r.VehicleID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "vehicleId must be a positive integer")
	}
	if r.CompanyID <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "companyId must be a positive integer")
	}
	if err := (Coordinates{Lat: r.Lat, Lng: r.Lng}).Validate(); err != nil {
		return err
	}
	if math.IsNaN(r.Speed) || math.IsInf(r.Speed, 0) || r.Speed < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "speed must be a non-negative number")
	}
	if math.IsNaN(r.Heading) || r.Heading < 0 || r.Heading > 360 {
		return dErrors.New(dErrors.CodeInvalidInput, "heading must be within [0, 360]")
	}
	return nil
}

// VehicleSnapshot is the latest known position of a vehicle as held by the
// location store.
type VehicleSnapshot struct {
	VehicleID VehicleID `json:"vehicleId"`
	CompanyID CompanyID `json:"companyId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize turns a validated report into its canonical stored form: six
// decimal places for coordinates, speed to two, heading in [0, 360), UTC time.
func Normalize(r PositionReport, at time.Time) VehicleSnapshot {
	heading := math.Mod(round(r.Heading, 2), 360)
	return VehicleSnapshot{
		VehicleID: r.VehicleID,
		CompanyID: r.CompanyID,
		Lat:       round(r.Lat, 6),
		Lng:       round(r.Lng, 6),
		Speed:     round(r.Speed, 2),
		Heading:   heading,
		Timestamp: at.UTC(),
	}
}

// LocationChanged builds the broadcast event for this snapshot.
func (s VehicleSnapshot) LocationChanged() VehicleLocationChanged {
	return VehicleLocationChanged{
		VehicleID: s.VehicleID,
		CompanyID: s.CompanyID,
		Lat:       s.Lat,
		Lng:       s.Lng,
		Speed:     s.Speed,
		Heading:   s.Heading,
		Timestamp: s.Timestamp,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
