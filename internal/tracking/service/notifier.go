package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trackhub/internal/tracking/dispatch"
	"trackhub/internal/tracking/models"
	"trackhub/pkg/requestcontext"
)

// Publish broadcasts a business event to its audience. It is the single entry
// point for the internal HTTP endpoint and the Kafka feed.
func (h *Hub) Publish(ctx context.Context, event models.Event) (dispatch.Delivery, error) {
	delivery, err := h.publisher.Publish(ctx, event)
	if err != nil {
		h.logger.Warn("event rejected", zap.Error(err))
		return dispatch.Delivery{}, err
	}
	return delivery, nil
}

// NotifyOrderStatusChanged publishes a status transition for a shipment.
func (h *Hub) NotifyOrderStatusChanged(ctx context.Context, order models.ShipmentID, from, to models.OrderStatus, location *models.Coordinates) (dispatch.Delivery, error) {
	event, err := models.NewOrderStatusChanged(order, from, to, location, nowUTC(ctx))
	if err != nil {
		return dispatch.Delivery{}, err
	}
	return h.Publish(ctx, event)
}

// NotifyDriverLocationChanged publishes the assigned driver's position to the
// shipment's watchers.
func (h *Hub) NotifyDriverLocationChanged(ctx context.Context, order models.ShipmentID, driver models.DriverID, at models.Coordinates) (dispatch.Delivery, error) {
	return h.Publish(ctx, models.DriverLocationChanged{
		OrderID:   order,
		DriverID:  driver,
		Lat:       at.Lat,
		Lng:       at.Lng,
		Timestamp: nowUTC(ctx),
	})
}

// NotifyDeliveryCompleted publishes proof of delivery.
func (h *Hub) NotifyDeliveryCompleted(ctx context.Context, order models.ShipmentID, photoURL, notes string) (dispatch.Delivery, error) {
	return h.Publish(ctx, models.DeliveryCompleted{
		OrderID:   order,
		PhotoURL:  photoURL,
		Notes:     notes,
		Timestamp: nowUTC(ctx),
	})
}

// NotifyPhotoUploaded publishes a newly attached shipment photo.
func (h *Hub) NotifyPhotoUploaded(ctx context.Context, order models.ShipmentID, photoType, photoURL, uploadedBy string) (dispatch.Delivery, error) {
	return h.Publish(ctx, models.PhotoUploaded{
		OrderID:    order,
		PhotoType:  photoType,
		PhotoURL:   photoURL,
		UploadedBy: uploadedBy,
		Timestamp:  nowUTC(ctx),
	})
}

func nowUTC(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}
