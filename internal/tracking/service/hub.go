// Package service is the tracking hub's application layer: the RPC surface the
// websocket transport calls and the notifier the business layer publishes to.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	"trackhub/internal/tracking/registry"
	dErrors "trackhub/pkg/domain-errors"
)

// Lifecycle is the connection lifecycle manager.
type Lifecycle interface {
	Connect(ctx context.Context, id models.ConnectionID, identity models.Identity, sender ports.Sender, platform string) error
	Disconnect(ctx context.Context, id models.ConnectionID, reason models.DisconnectReason) bool
}

// Ingest is the location ingest pipeline.
type Ingest interface {
	UpdateLocation(ctx context.Context, conn models.ConnectionID, report models.PositionReport) error
	RequestVehicleLocation(ctx context.Context, conn models.ConnectionID, vehicle models.VehicleID) (*models.VehicleSnapshot, error)
}

// Publisher is the broadcast dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) (dispatch.Delivery, error)
}

// Stats is a point-in-time view of hub state.
type Stats struct {
	Connections     int       `json:"connections"`
	LiveConnections int       `json:"liveConnections"`
	Shipments       int       `json:"watchedShipments"`
	Companies       int       `json:"watchedCompanies"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// Hub wires the registries, ingest pipeline, dispatcher and lifecycle
// manager behind one facade.
type Hub struct {
	conns     *registry.Connections
	subs      *registry.Subscriptions
	groups    *registry.Groups
	lifecycle Lifecycle
	ingest    Ingest
	publisher Publisher
	logger    *zap.Logger
}

// New creates a hub facade.
func New(
	conns *registry.Connections,
	subs *registry.Subscriptions,
	groups *registry.Groups,
	lifecycle Lifecycle,
	ingest Ingest,
	publisher Publisher,
	logger *zap.Logger,
) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:     conns,
		subs:      subs,
		groups:    groups,
		lifecycle: lifecycle,
		ingest:    ingest,
		publisher: publisher,
		logger:    logger,
	}
}

// Connect registers a freshly authenticated connection.
func (h *Hub) Connect(ctx context.Context, id models.ConnectionID, identity models.Identity, sender ports.Sender, platform string) error {
	return h.lifecycle.Connect(ctx, id, identity, sender, platform)
}

// Disconnect tears a connection down. Safe to call more than once.
func (h *Hub) Disconnect(ctx context.Context, id models.ConnectionID, reason models.DisconnectReason) {
	h.lifecycle.Disconnect(ctx, id, reason)
}

// SubscribeToOrder starts streaming a shipment's events to conn.
func (h *Hub) SubscribeToOrder(_ context.Context, conn models.ConnectionID, req models.OrderRequest) (models.SubscriptionAck, error) {
	shipment, err := models.ParseShipmentID(req.OrderID)
	if err != nil {
		return models.SubscriptionAck{}, err
	}
	ack, err := h.subs.Subscribe(conn, shipment)
	if err != nil {
		return models.SubscriptionAck{}, err
	}
	h.logger.Debug("subscribed to order",
		zap.String("connection_id", conn.String()),
		zap.Int64("order_id", int64(shipment)),
	)
	return ack, nil
}

// UnsubscribeFromOrder stops streaming a shipment to conn. Unsubscribing from
// a shipment that was never watched is not an error.
func (h *Hub) UnsubscribeFromOrder(_ context.Context, conn models.ConnectionID, req models.OrderRequest) error {
	shipment, err := models.ParseShipmentID(req.OrderID)
	if err != nil {
		return err
	}
	h.subs.Unsubscribe(conn, shipment)
	return nil
}

// JoinCompanyGroup adds conn to a company's fleet feed and returns the
// current fleet snapshot.
func (h *Hub) JoinCompanyGroup(ctx context.Context, conn models.ConnectionID, req models.CompanyRequest) ([]models.VehicleSnapshot, error) {
	company, err := models.ParseCompanyID(req.CompanyID)
	if err != nil {
		return nil, err
	}
	fleet, err := h.groups.Join(ctx, conn, company)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("joined company group",
		zap.String("connection_id", conn.String()),
		zap.Int64("company_id", int64(company)),
		zap.Int("vehicles", len(fleet)),
	)
	return fleet, nil
}

// LeaveCompanyGroup removes conn from a company's fleet feed.
func (h *Hub) LeaveCompanyGroup(_ context.Context, conn models.ConnectionID, req models.CompanyRequest) error {
	company, err := models.ParseCompanyID(req.CompanyID)
	if err != nil {
		return err
	}
	h.groups.Leave(conn, company)
	return nil
}

// UpdateLocation ingests a driver position report.
func (h *Hub) UpdateLocation(ctx context.Context, conn models.ConnectionID, req models.LocationRequest) error {
	vehicle, err := models.ParseVehicleID(req.VehicleID)
	if err != nil {
		return err
	}
	if req.CompanyID < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "companyId must be a positive integer")
	}
	return h.ingest.UpdateLocation(ctx, conn, models.PositionReport{
		VehicleID: vehicle,
		CompanyID: models.CompanyID(req.CompanyID),
		Lat:       req.Lat,
		Lng:       req.Lng,
		Speed:     req.Speed,
		Heading:   req.Heading,
	})
}

// RequestVehicleLocation answers with the vehicle's latest known position, or
// Known=false when none is stored.
func (h *Hub) RequestVehicleLocation(ctx context.Context, conn models.ConnectionID, req models.VehicleRequest) (models.VehicleLocationReply, error) {
	vehicle, err := models.ParseVehicleID(req.VehicleID)
	if err != nil {
		return models.VehicleLocationReply{}, err
	}
	snapshot, err := h.ingest.RequestVehicleLocation(ctx, conn, vehicle)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return models.VehicleLocationReply{VehicleID: vehicle, Known: false}, nil
	}
	if err != nil {
		return models.VehicleLocationReply{}, err
	}
	return models.VehicleLocationReply{VehicleID: vehicle, Known: true, Position: snapshot}, nil
}

// Stats reports registry sizes.
func (h *Hub) Stats(ctx context.Context) Stats {
	return Stats{
		Connections:     h.conns.Len(),
		LiveConnections: len(h.conns.Live()),
		Shipments:       h.subs.Shipments(),
		Companies:       h.groups.Companies(),
		GeneratedAt:     nowUTC(ctx),
	}
}
