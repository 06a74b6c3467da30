// Package dispatch fans tracking events out to the connections that should
// receive them.
package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	"trackhub/internal/tracking/registry"
)

// Connections resolves connection ids to their registered entries.
type Connections interface {
	Get(id models.ConnectionID) (*registry.Connection, bool)
}

// Watchers resolves shipment-scoped targets.
type Watchers interface {
	WatchersOf(shipment models.ShipmentID) []models.ConnectionID
}

// Members resolves company-scoped targets.
type Members interface {
	MembersOf(company models.CompanyID) []models.ConnectionID
}

// Delivery summarizes one broadcast.
type Delivery struct {
	Targets   int `json:"targets"`
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	Dead      int `json:"dead"`
}

// Dispatcher resolves an event's audience from the registries, encodes it once
// and enqueues the frame on each live target. Delivery failures are handed to
// the Reaper and never reported to the publisher.
type Dispatcher struct {
	conns     Connections
	watchers  Watchers
	members   Members
	reaper    ports.Reaper
	forwarder ports.Forwarder
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records fan-out metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithForwarder relays every locally published event to peer instances.
func WithForwarder(f ports.Forwarder) Option {
	return func(d *Dispatcher) { d.forwarder = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher.
func New(conns Connections, watchers Watchers, members Members, reaper ports.Reaper, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conns:    conns,
		watchers: watchers,
		members:  members,
		reaper:   reaper,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("trackhub/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish validates an event, delivers it to local targets and forwards it to
// peers when a forwarder is configured.
func (d *Dispatcher) Publish(ctx context.Context, event models.Event) (Delivery, error) {
	delivery, err := d.PublishLocal(ctx, event)
	if err != nil {
		return delivery, err
	}
	if d.forwarder != nil {
		if err := d.forwarder.Forward(ctx, event); err != nil {
			d.logger.Warn("forward event to peers failed",
				zap.String("kind", event.Kind().String()),
				zap.Error(err),
			)
		} else {
			d.metrics.IncrementBackplaneForwarded()
		}
	}
	return delivery, nil
}

// PublishLocal delivers an event to this instance's connections only.
func (d *Dispatcher) PublishLocal(ctx context.Context, event models.Event) (Delivery, error) {
	if err := models.Validate(event); err != nil {
		return Delivery{}, err
	}
	ctx, span := d.tracer.Start(ctx, "dispatch.Publish",
		trace.WithAttributes(attribute.String("event.kind", event.Kind().String())))
	defer span.End()

	frame, err := models.EncodeEventFrame(event)
	if err != nil {
		span.RecordError(err)
		return Delivery{}, err
	}
	targets := d.Targets(event)
	delivery := d.Broadcast(ctx, frame, targets)

	span.SetAttributes(
		attribute.Int("dispatch.targets", delivery.Targets),
		attribute.Int("dispatch.dead", delivery.Dead),
	)
	d.metrics.IncrementEventsPublished(event.Kind().String())
	d.logger.Debug("event published",
		zap.String("kind", event.Kind().String()),
		zap.Int("targets", delivery.Targets),
		zap.Int("delivered", delivery.Delivered),
		zap.Int("dead", delivery.Dead),
	)
	return delivery, nil
}

// Targets resolves the connections an event is addressed to.
func (d *Dispatcher) Targets(event models.Event) []models.ConnectionID {
	switch e := event.(type) {
	case models.OrderStatusChanged:
		return d.watchers.WatchersOf(e.OrderID)
	case models.DriverLocationChanged:
		return d.watchers.WatchersOf(e.OrderID)
	case models.DeliveryCompleted:
		return d.watchers.WatchersOf(e.OrderID)
	case models.PhotoUploaded:
		return d.watchers.WatchersOf(e.OrderID)
	case models.VehicleLocationChanged:
		return d.members.MembersOf(e.CompanyID)
	default:
		d.logger.Error("unroutable event variant", zap.String("kind", event.Kind().String()))
		return nil
	}
}

// Broadcast enqueues frame on every live target. Targets that are no longer
// live are skipped; targets whose Send fails are handed to the Reaper.
func (d *Dispatcher) Broadcast(_ context.Context, frame []byte, targets []models.ConnectionID) Delivery {
	delivery := Delivery{Targets: len(targets)}
	for _, id := range targets {
		conn, ok := d.conns.Get(id)
		if !ok || !conn.Deliverable() {
			delivery.Skipped++
			continue
		}
		if err := conn.Sender.Send(frame); err != nil {
			delivery.Dead++
			// Concurrent broadcasts may both fail on the same connection.
			if conn.MarkUndeliverable() {
				d.logger.Debug("delivery failed, reaping connection",
					zap.String("connection_id", id.String()),
					zap.Error(err),
				)
				d.reaper.Reap(id)
			}
			continue
		}
		delivery.Delivered++
	}
	d.metrics.ObserveBroadcast(delivery.Targets, delivery.Delivered, delivery.Dead)
	return delivery
}
