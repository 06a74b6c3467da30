package registry

import (
	"trackhub/internal/tracking/models"
	dErrors "trackhub/pkg/domain-errors"
)

// Subscriptions maps shipments to the connections watching them.
type Subscriptions struct {
	rel *Relation[models.ShipmentID]
}

// NewSubscriptions creates an empty subscription registry. live is consulted
// on every Subscribe.
func NewSubscriptions(live Liveness, opts ...Option) *Subscriptions {
	return &Subscriptions{rel: NewRelation[models.ShipmentID](live, opts...)}
}

// Subscribe adds conn as a watcher of shipment. Repeating it is a no-op that
// still acknowledges.
func (s *Subscriptions) Subscribe(conn models.ConnectionID, shipment models.ShipmentID) (models.SubscriptionAck, error) {
	if shipment <= 0 {
		return models.SubscriptionAck{}, dErrors.New(dErrors.CodeInvalidInput, "orderId must be a positive integer")
	}
	if _, err := s.rel.Add(conn, shipment); err != nil {
		return models.SubscriptionAck{}, dErrors.Wrap(err, dErrors.CodeInvalidState, "connection is not live")
	}
	return models.SubscriptionAck{ShipmentID: shipment, Confirmed: true}, nil
}

// Unsubscribe removes conn from shipment's watchers. It reports whether conn
// was watching.
func (s *Subscriptions) Unsubscribe(conn models.ConnectionID, shipment models.ShipmentID) bool {
	return s.rel.Remove(conn, shipment)
}

// WatchersOf returns a snapshot of the connections watching shipment.
func (s *Subscriptions) WatchersOf(shipment models.ShipmentID) []models.ConnectionID {
	return s.rel.Members(shipment)
}

// IsWatching reports whether conn watches shipment.
func (s *Subscriptions) IsWatching(conn models.ConnectionID, shipment models.ShipmentID) bool {
	return s.rel.Contains(conn, shipment)
}

// ShipmentsOf returns the shipments conn watches.
func (s *Subscriptions) ShipmentsOf(conn models.ConnectionID) []models.ShipmentID {
	return s.rel.KeysOf(conn)
}

// DropConnection removes every subscription held by conn.
func (s *Subscriptions) DropConnection(conn models.ConnectionID) int {
	return s.rel.DropConnection(conn)
}

// Shipments returns the number of shipments with at least one watcher.
func (s *Subscriptions) Shipments() int {
	return s.rel.Keys()
}
