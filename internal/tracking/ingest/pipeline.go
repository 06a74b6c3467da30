// Package ingest validates, authorizes, persists and broadcasts vehicle
// position reports.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/metrics"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/ports"
	dErrors "trackhub/pkg/domain-errors"
	"trackhub/pkg/platform/circuit"
	"trackhub/pkg/platform/sentinel"
)

const (
	// DefaultStoreTimeout bounds each location store call.
	DefaultStoreTimeout = 3 * time.Second
	// DefaultReportsPerSecond is the per-vehicle throttle limit.
	DefaultReportsPerSecond = 10
)

// Identities resolves the identity bound to a connection.
type Identities interface {
	Identity(id models.ConnectionID) (models.Identity, bool)
}

// Publisher hands events to the broadcast dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) (dispatch.Delivery, error)
}

// Pipeline is the location ingest pipeline. Only the store call suspends;
// every other step is in-memory.
type Pipeline struct {
	conns        Identities
	authz        ports.Authorizer
	store        ports.LocationStore
	publisher    Publisher
	breaker      *circuit.Breaker
	throttle     *Throttle
	storeTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStoreTimeout bounds each location store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.storeTimeout = d
		}
	}
}

// WithThrottle replaces the per-vehicle throttle. Nil disables throttling.
func WithThrottle(t *Throttle) Option {
	return func(p *Pipeline) { p.throttle = t }
}

// WithBreaker replaces the location store circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline with default timeout, throttle and breaker.
func New(conns Identities, authz ports.Authorizer, store ports.LocationStore, publisher Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		conns:        conns,
		authz:        authz,
		store:        store,
		publisher:    publisher,
		breaker:      circuit.New("location-store"),
		throttle:     NewThrottle(DefaultReportsPerSecond, time.Second),
		storeTimeout: DefaultStoreTimeout,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("trackhub/ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UpdateLocation ingests a report sent over connection conn.
func (p *Pipeline) UpdateLocation(ctx context.Context, conn models.ConnectionID, report models.PositionReport) error {
	identity, ok := p.conns.Identity(conn)
	if !ok {
		return dErrors.New(dErrors.CodeInvalidState, "connection is not live")
	}
	_, err := p.Ingest(ctx, identity, report)
	return err
}

// Ingest runs the pipeline for an identity not bound to a connection (the
// telematics feed). It returns the canonical snapshot that was broadcast.
// A report without companyId is attributed to the identity's single company.
func (p *Pipeline) Ingest(ctx context.Context, identity models.Identity, report models.PositionReport) (*models.VehicleSnapshot, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.UpdateLocation", trace.WithAttributes(
		attribute.Int64("vehicle.id", int64(report.VehicleID)),
		attribute.String("identity.role", string(identity.Role)),
	))
	defer span.End()

	snapshot, outcome, err := p.ingest(ctx, identity, report)
	p.metrics.IncrementLocationReports(outcome)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		span.RecordError(err)
		return nil, err
	}
	return snapshot, nil
}

func (p *Pipeline) ingest(ctx context.Context, identity models.Identity, report models.PositionReport) (*models.VehicleSnapshot, string, error) {
	if report.CompanyID == 0 {
		if home, ok := identity.HomeCompany(); ok {
			report.CompanyID = home
		}
	}
	if err := report.Validate(); err != nil {
		return nil, "invalid", err
	}

	owns, err := p.authz.OwnsVehicle(ctx, identity, report.VehicleID)
	if err != nil {
		return nil, "unavailable", dErrors.Wrap(err, dErrors.CodeUnavailable, "authorization service unavailable")
	}
	if !owns {
		return nil, "forbidden", dErrors.New(dErrors.CodeForbidden, "not authorized to report vehicle "+report.VehicleID.String())
	}
	inCompany, err := p.authz.Authorize(ctx, identity, report.CompanyID)
	if err != nil {
		return nil, "unavailable", dErrors.Wrap(err, dErrors.CodeUnavailable, "authorization service unavailable")
	}
	if !inCompany {
		return nil, "forbidden", dErrors.New(dErrors.CodeForbidden, "not authorized for company "+report.CompanyID.String())
	}

	if !p.throttle.Allow(report.VehicleID) {
		return nil, "throttled", dErrors.New(dErrors.CodeRateLimited, "too many position reports for vehicle "+report.VehicleID.String())
	}

	snapshot, err := p.record(ctx, report)
	if err != nil {
		return nil, "unavailable", err
	}

	if _, err := p.publisher.Publish(ctx, snapshot.LocationChanged()); err != nil {
		p.logger.Error("publish stored position failed",
			zap.Int64("vehicle_id", int64(snapshot.VehicleID)),
			zap.Error(err),
		)
		return nil, "error", dErrors.Wrap(err, dErrors.CodeInternal, "broadcast failed")
	}
	return snapshot, "accepted", nil
}

// record persists the report through the circuit breaker.
func (p *Pipeline) record(ctx context.Context, report models.PositionReport) (*models.VehicleSnapshot, error) {
	if !p.breaker.Allow() {
		return nil, dErrors.New(dErrors.CodeUnavailable, "location store unavailable")
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	start := time.Now()
	snapshot, err := p.store.RecordPosition(storeCtx, report)
	p.metrics.ObserveStoreLatency("record_position", time.Since(start))

	if err == nil && snapshot == nil {
		err = errors.New("store returned no snapshot")
	}
	if err != nil {
		_, change := p.breaker.RecordFailure()
		if change.Opened {
			p.metrics.SetCircuitOpen(true)
			p.logger.Warn("location store circuit opened", zap.Error(err))
		}
		p.logger.Debug("record position failed",
			zap.Int64("vehicle_id", int64(report.VehicleID)),
			zap.Error(err),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "location store unavailable")
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.SetCircuitOpen(false)
		p.logger.Info("location store circuit closed")
	}
	return snapshot, nil
}

// RequestVehicleLocation returns the latest stored position of a vehicle the
// caller is authorized to see. Unknown vehicles yield CodeNotFound.
func (p *Pipeline) RequestVehicleLocation(ctx context.Context, conn models.ConnectionID, vehicle models.VehicleID) (*models.VehicleSnapshot, error) {
	identity, ok := p.conns.Identity(conn)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidState, "connection is not live")
	}
	if vehicle <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "vehicleId must be a positive integer")
	}
	ctx, span := p.tracer.Start(ctx, "ingest.RequestVehicleLocation",
		trace.WithAttributes(attribute.Int64("vehicle.id", int64(vehicle))))
	defer span.End()

	storeCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()
	start := time.Now()
	snapshot, err := p.store.LatestPosition(storeCtx, vehicle)
	p.metrics.ObserveStoreLatency("latest_position", time.Since(start))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown")
		}
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "location store unavailable")
	}

	allowed, err := p.authz.Authorize(ctx, identity, snapshot.CompanyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "authorization service unavailable")
	}
	if !allowed {
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized for vehicle "+vehicle.String())
	}
	return snapshot, nil
}

// SweepThrottle drops idle throttle windows.
func (p *Pipeline) SweepThrottle() int {
	return p.throttle.Sweep()
}
