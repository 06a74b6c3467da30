// Package location implements ports.LocationStore over memory, Redis and
// PostgreSQL.
package location

import (
	"context"
	"slices"
	"sync"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/platform/sentinel"
	"trackhub/pkg/requestcontext"
)

// InMemory keeps the latest snapshot per vehicle in process memory. Suitable
// for development and single-instance deployments.
type InMemory struct {
	mu        sync.RWMutex
	latest    map[models.VehicleID]models.VehicleSnapshot
	byCompany map[models.CompanyID]map[models.VehicleID]struct{}
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		latest:    make(map[models.VehicleID]models.VehicleSnapshot),
		byCompany: make(map[models.CompanyID]map[models.VehicleID]struct{}),
	}
}

// RecordPosition stores the normalized report as the vehicle's latest snapshot.
// A vehicle reported under a new company moves to that company's fleet.
func (s *InMemory) RecordPosition(ctx context.Context, report models.PositionReport) (*models.VehicleSnapshot, error) {
	snapshot := models.Normalize(report, requestcontext.Now(ctx))

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[report.VehicleID]; ok && prev.CompanyID != report.CompanyID {
		s.removeFromCompany(prev.CompanyID, prev.VehicleID)
	}
	s.latest[report.VehicleID] = snapshot
	fleet := s.byCompany[report.CompanyID]
	if fleet == nil {
		fleet = make(map[models.VehicleID]struct{})
		s.byCompany[report.CompanyID] = fleet
	}
	fleet[report.VehicleID] = struct{}{}
	return &snapshot, nil
}

// LatestPosition returns sentinel.ErrNotFound for vehicles never reported.
func (s *InMemory) LatestPosition(_ context.Context, vehicle models.VehicleID) (*models.VehicleSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.latest[vehicle]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &snapshot, nil
}

// FleetSnapshot returns the company's vehicles ordered by vehicle id.
func (s *InMemory) FleetSnapshot(_ context.Context, company models.CompanyID) ([]models.VehicleSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fleet := s.byCompany[company]
	out := make([]models.VehicleSnapshot, 0, len(fleet))
	for vehicle := range fleet {
		out = append(out, s.latest[vehicle])
	}
	sortByVehicle(out)
	return out, nil
}

func (s *InMemory) removeFromCompany(company models.CompanyID, vehicle models.VehicleID) {
	fleet := s.byCompany[company]
	delete(fleet, vehicle)
	if len(fleet) == 0 {
		delete(s.byCompany, company)
	}
}

func sortByVehicle(snapshots []models.VehicleSnapshot) {
	slices.SortFunc(snapshots, func(a, b models.VehicleSnapshot) int {
		switch {
		case a.VehicleID < b.VehicleID:
			return -1
		case a.VehicleID > b.VehicleID:
			return 1
		}
		return 0
	})
}
