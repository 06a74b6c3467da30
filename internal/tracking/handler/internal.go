package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/models"
	"trackhub/internal/tracking/service"
	dErrors "trackhub/pkg/domain-errors"
	"trackhub/pkg/platform/httputil"
	"trackhub/pkg/requestcontext"
)

// Notifier is the business-event surface of the hub.
type Notifier interface {
	Publish(ctx context.Context, event models.Event) (dispatch.Delivery, error)
	Stats(ctx context.Context) service.Stats
}

// Assignments manages driver to vehicle assignments when they are kept
// outside token claims.
type Assignments interface {
	AssignVehicle(ctx context.Context, subject string, vehicle models.VehicleID) error
	UnassignVehicle(ctx context.Context, subject string, vehicle models.VehicleID) error
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Internal serves the service-to-service endpoints.
type Internal struct {
	notifier    Notifier
	assignments Assignments
	checks      map[string]HealthCheck
	logger      *zap.Logger
}

// NewInternal creates the internal HTTP handler. assignments may be nil.
func NewInternal(notifier Notifier, assignments Assignments, checks map[string]HealthCheck, logger *zap.Logger) *Internal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Internal{
		notifier:    notifier,
		assignments: assignments,
		checks:      checks,
		logger:      logger,
	}
}

// Register mounts the authenticated internal routes on r.
func (h *Internal) Register(r chi.Router) {
	r.Post("/events", h.handlePublishEvent)
	r.Get("/stats", h.handleStats)
	if h.assignments != nil {
		r.Put("/drivers/{subject}/vehicles/{vehicleID}", h.handleAssignVehicle)
		r.Delete("/drivers/{subject}/vehicles/{vehicleID}", h.handleUnassignVehicle)
	}
}

type eventRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type eventResponse struct {
	Kind      string `json:"kind"`
	Targets   int    `json:"targets"`
	Delivered int    `json:"delivered"`
}

func (h *Internal) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[eventRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	event, err := models.DecodeEvent(req.Kind, req.Payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	delivery, err := h.notifier.Publish(ctx, event)
	if err != nil {
		h.logger.Error("publish event failed",
			zap.String("request_id", requestcontext.RequestID(ctx)),
			zap.String("kind", req.Kind),
			zap.Error(err),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, eventResponse{
		Kind:      event.Kind().String(),
		Targets:   delivery.Targets,
		Delivered: delivery.Delivered,
	})
}

func (h *Internal) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.notifier.Stats(r.Context()))
}

func (h *Internal) assignmentParams(r *http.Request) (string, models.VehicleID, error) {
	subject := chi.URLParam(r, "subject")
	if subject == "" {
		return "", 0, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	raw, err := strconv.ParseInt(chi.URLParam(r, "vehicleID"), 10, 64)
	if err != nil {
		return "", 0, dErrors.New(dErrors.CodeInvalidInput, "vehicleId must be a positive integer")
	}
	vehicle, err := models.ParseVehicleID(raw)
	return subject, vehicle, err
}

func (h *Internal) handleAssignVehicle(w http.ResponseWriter, r *http.Request) {
	subject, vehicle, err := h.assignmentParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.assignments.AssignVehicle(r.Context(), subject, vehicle); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "assignment store unavailable"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Internal) handleUnassignVehicle(w http.ResponseWriter, r *http.Request) {
	subject, vehicle, err := h.assignmentParams(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.assignments.UnassignVehicle(r.Context(), subject, vehicle); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "assignment store unavailable"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth reports ok only when every dependency check passes.
func (h *Internal) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}
