package registry

import (
	"context"

	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	dErrors "trackhub/pkg/domain-errors"
)

// Members identifies connections and resolves their identities.
type Members interface {
	Liveness
	Identity(id models.ConnectionID) (models.Identity, bool)
}

// Groups maps companies to the dashboard connections following their fleet.
type Groups struct {
	rel   *Relation[models.CompanyID]
	conns Members
	authz ports.Authorizer
	store ports.LocationStore
}

// NewGroups creates an empty group registry.
func NewGroups(conns Members, authz ports.Authorizer, store ports.LocationStore, opts ...Option) *Groups {
	return &Groups{
		rel:   NewRelation[models.CompanyID](conns, opts...),
		conns: conns,
		authz: authz,
		store: store,
	}
}

// Join admits conn to company's group after authorization and returns the
// company's current fleet snapshot. When the snapshot cannot be read the join
// is rolled back and a CodeUnavailable error is returned; a membership from an
// earlier successful join is kept.
func (g *Groups) Join(ctx context.Context, conn models.ConnectionID, company models.CompanyID) ([]models.VehicleSnapshot, error) {
	if company <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "companyId must be a positive integer")
	}
	identity, ok := g.conns.Identity(conn)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidState, "connection is not live")
	}

	allowed, err := g.authz.Authorize(ctx, identity, company)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "authorization service unavailable")
	}
	if !allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized for company "+company.String())
	}

	// Admitted before the snapshot read so no update falls between the two.
	added, err := g.rel.Add(conn, company)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "connection is not live")
	}

	fleet, err := g.store.FleetSnapshot(ctx, company)
	if err != nil {
		if added {
			g.rel.Remove(conn, company)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "fleet snapshot unavailable")
	}
	if fleet == nil {
		fleet = []models.VehicleSnapshot{}
	}
	return fleet, nil
}

// Leave removes conn from company's group. It reports whether conn was a member.
func (g *Groups) Leave(conn models.ConnectionID, company models.CompanyID) bool {
	return g.rel.Remove(conn, company)
}

// MembersOf returns a snapshot of the connections in company's group.
func (g *Groups) MembersOf(company models.CompanyID) []models.ConnectionID {
	return g.rel.Members(company)
}

// IsMember reports whether conn belongs to company's group.
func (g *Groups) IsMember(conn models.ConnectionID, company models.CompanyID) bool {
	return g.rel.Contains(conn, company)
}

// CompaniesOf returns the companies conn follows.
func (g *Groups) CompaniesOf(conn models.ConnectionID) []models.CompanyID {
	return g.rel.KeysOf(conn)
}

// DropConnection removes every group membership held by conn.
func (g *Groups) DropConnection(conn models.ConnectionID) int {
	return g.rel.DropConnection(conn)
}

// Companies returns the number of companies with at least one member.
func (g *Groups) Companies() int {
	return g.rel.Keys()
}
